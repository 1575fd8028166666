// API Gatewayのエントリポイント。
// クライアントからのリクエストを認証サービスと商品サービスへ振り分ける唯一の入口であり、
// 認証付きルートではトークンを検証してからユーザー情報を上流へ渡す。
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// cfgFile は --config で指定された設定ファイルのパス。
var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "認証付きAPI Gateway",
		Long: `gatewayはパスプレフィックスでリクエストを上流サービスへ振り分けるAPI Gatewayです。
認証が必要なルートでは認証サービスでトークンを検証し、X-User-* ヘッダーを付与して転送します。`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "設定ファイルのパス（省略時は組み込みのデフォルト設定）")
	root.AddCommand(newRoutesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
