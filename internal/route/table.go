// Package route はパスプレフィックスから転送先と認証要否を解決するルートテーブルを提供する。
//
// ルールは宣言順に評価され、最初にマッチしたものが採用される。同じプレフィックスに
// 公開ルートと認証付きルートがある場合、先に宣言された側が後の側を覆い隠す。
package route

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/commerce-gateway/internal/config"
)

// ErrNotFound はどのルートにもマッチしなかったことを表す。
var ErrNotFound = errors.New("route not found")

// Upstream は転送先サービス。
type Upstream struct {
	// Name は設定上の識別名。
	Name string
	// DisplayName はエラーメッセージに使うサービス名。
	DisplayName string
	// BaseURL はサービスのベースURL。
	BaseURL *url.URL
	// Timeout は転送リクエストのタイムアウト。
	Timeout time.Duration
}

// Route はひとつのルーティングルール。
type Route struct {
	// Prefix はマッチ対象のパスプレフィックス。
	Prefix string
	// Methods はマッチ対象のHTTPメソッド。空の場合は全メソッド。
	Methods []string
	// Upstream は転送先。
	Upstream *Upstream
	// RequiresAuth は転送前にトークン検証が必要かどうか。
	RequiresAuth bool
	// StripPrefix は転送時にプレフィックスを取り除くかどうか。
	StripPrefix bool
}

// Target は解決済みの転送先。
type Target struct {
	// BaseURL は転送先のベースURL。
	BaseURL *url.URL
	// Path は書き換え後のリクエストパス（エスケープ済み）。
	Path string
}

// Name はメトリクスやログに使うルートの識別子を返す。
func (r *Route) Name() string {
	methods := "*"
	if len(r.Methods) > 0 {
		methods = strings.Join(r.Methods, ",")
	}
	auth := "public"
	if r.RequiresAuth {
		auth = "auth"
	}
	return fmt.Sprintf("%s %s (%s)", methods, r.Prefix, auth)
}

// matches はパスとメソッドがこのルートにマッチするかを判定する。
// プレフィックスはパスセグメント境界でのみマッチする（/products は /productsx にマッチしない）。
func (r *Route) matches(path, method string) bool {
	if !hasSegmentPrefix(path, r.Prefix) {
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Target はエスケープ済みのリクエストパス（URL.EscapedPath）から転送先を組み立てる。
// %2F などのエスケープはそのまま保持し、書き換えはプレフィックスの除去だけに限る。
func (r *Route) Target(escapedPath string) Target {
	rewritten := escapedPath
	if r.StripPrefix {
		rewritten = trimEscapedPrefix(escapedPath, strings.TrimSuffix(r.Prefix, "/"))
		if rewritten == "" || rewritten[0] != '/' {
			rewritten = "/" + rewritten
		}
	}
	return Target{
		BaseURL: r.Upstream.BaseURL,
		Path:    joinPath(r.Upstream.BaseURL.EscapedPath(), rewritten),
	}
}

// Table は起動後に変更されないルートテーブル。
// 複数のリクエストから同時に参照されてもロックを必要としない。
type Table struct {
	routes []*Route
}

// NewTable は設定からルートテーブルを構築する。
func NewTable(cfg *config.Config) (*Table, error) {
	upstreams := make(map[string]*Upstream, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		parsed, err := url.Parse(u.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("upstream %q のURL解析に失敗: %w", u.Name, err)
		}
		upstreams[u.Name] = &Upstream{
			Name:        u.Name,
			DisplayName: u.DisplayName,
			BaseURL:     parsed,
			Timeout:     u.Timeout,
		}
	}

	routes := make([]*Route, 0, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		up, ok := upstreams[rc.Upstream]
		if !ok {
			return nil, fmt.Errorf("routes[%d]: 未定義のupstream %q", i, rc.Upstream)
		}
		methods := make([]string, 0, len(rc.Methods))
		for _, m := range rc.Methods {
			methods = append(methods, strings.ToUpper(m))
		}
		routes = append(routes, &Route{
			Prefix:       rc.Prefix,
			Methods:      methods,
			Upstream:     up,
			RequiresAuth: rc.RequiresAuth,
			StripPrefix:  rc.StripPrefix,
		})
	}

	return &Table{routes: routes}, nil
}

// Resolve は宣言順で最初にマッチしたルートを返す。
// マッチしない場合は ErrNotFound を返す。
func (t *Table) Resolve(path, method string) (*Route, error) {
	for _, r := range t.routes {
		if r.matches(path, method) {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// Routes は宣言順のルート一覧のコピーを返す。
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	for i, r := range t.routes {
		out[i] = *r
	}
	return out
}

func hasSegmentPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/'
}

// trimEscapedPrefix はエスケープ済みパスの先頭からデコード後にprefixとなる部分を取り除く。
// prefixの文字が %XX で書かれていても一致させ、残りのエスケープには手を付けない。
func trimEscapedPrefix(escaped, prefix string) string {
	i := 0
	for j := 0; j < len(prefix); j++ {
		if i < len(escaped) && escaped[i] == prefix[j] {
			i++
			continue
		}
		if i+3 <= len(escaped) && escaped[i] == '%' {
			if b, err := strconv.ParseUint(escaped[i+1:i+3], 16, 8); err == nil && byte(b) == prefix[j] {
				i += 3
				continue
			}
		}
		return escaped
	}
	return escaped[i:]
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return strings.TrimSuffix(base, "/") + p
}
