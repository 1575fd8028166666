package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nao1215/commerce-gateway/internal/config"
	"github.com/nao1215/commerce-gateway/internal/route"
)

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "ルートテーブルを評価順に表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("設定の読み込みに失敗: %w", err)
			}
			table, err := route.NewTable(cfg)
			if err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), table.Routes())
		},
	}
}

// printRoutes はルートを宣言順（評価順）に表形式で出力する。
func printRoutes(w io.Writer, routes []route.Route) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tMETHODS\tPREFIX\tUPSTREAM\tAUTH\tSTRIP")
	for i, r := range routes {
		methods := "*"
		if len(r.Methods) > 0 {
			methods = strings.Join(r.Methods, ",")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%t\n",
			i+1, methods, r.Prefix, r.Upstream.BaseURL, r.RequiresAuth, r.StripPrefix)
	}
	return tw.Flush()
}
