package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 既定の上流サービス名。
const (
	// UpstreamAuth は認証サービスの上流名。
	UpstreamAuth = "auth"
	// UpstreamProduct は商品サービスの上流名。
	UpstreamProduct = "product"
)

// Config はAPI Gateway全体の設定。
type Config struct {
	// Port はGatewayのリッスンポート。
	Port string `yaml:"port"`
	// Log はログ出力の設定。
	Log LogConfig `yaml:"log"`
	// CORS はクロスオリジンリクエストの設定。
	CORS CORSConfig `yaml:"cors"`
	// ExposeErrorDetail はエラーレスポンスに内部エラーの詳細（errorフィールド）を含めるかどうか。
	ExposeErrorDetail bool `yaml:"expose_error_detail"`
	// Auth はトークン検証の設定。
	Auth AuthConfig `yaml:"auth"`
	// Upstreams は転送先サービスの一覧。
	Upstreams []UpstreamConfig `yaml:"upstreams"`
	// Routes は宣言順に評価されるルーティングルール。
	Routes []RouteConfig `yaml:"routes"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string `yaml:"level"`
	// Format は出力形式（json, console）。
	Format string `yaml:"format"`
}

// CORSConfig はCORSの設定。
type CORSConfig struct {
	// AllowedOrigins は許可するオリジン。"*" は全オリジンを許可する。
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig はトークン検証エンドポイントの設定。
type AuthConfig struct {
	// Upstream は検証リクエストを送る上流名。
	Upstream string `yaml:"upstream"`
	// ValidatePath は検証エンドポイントのパス。
	ValidatePath string `yaml:"validate_path"`
	// Timeout は検証リクエストのタイムアウト。
	Timeout time.Duration `yaml:"timeout"`
}

// UpstreamConfig は転送先サービスの設定。
type UpstreamConfig struct {
	// Name はルートから参照される識別名。
	Name string `yaml:"name"`
	// DisplayName はエラーメッセージに使うサービス名（例: "Product service"）。
	DisplayName string `yaml:"display_name"`
	// BaseURL はサービスのベースURL。
	BaseURL string `yaml:"base_url"`
	// Timeout は転送リクエストのタイムアウト。
	Timeout time.Duration `yaml:"timeout"`
}

// RouteConfig はルーティングルールの設定。
type RouteConfig struct {
	// Prefix はマッチ対象のパスプレフィックス。
	Prefix string `yaml:"prefix"`
	// Methods はマッチ対象のHTTPメソッド。空の場合は全メソッド。
	Methods []string `yaml:"methods"`
	// Upstream は転送先の上流名。
	Upstream string `yaml:"upstream"`
	// RequiresAuth は転送前にトークン検証が必要かどうか。
	RequiresAuth bool `yaml:"requires_auth"`
	// StripPrefix は転送時にプレフィックスを取り除くかどうか。
	StripPrefix bool `yaml:"strip_prefix"`
}

// Default は既定の設定を返す。
// 公開のGETルートは認証付きルートより先に宣言される。
func Default() *Config {
	return &Config{
		Port: "5000",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		ExposeErrorDetail: true,
		Auth: AuthConfig{
			Upstream:     UpstreamAuth,
			ValidatePath: "/validate-token",
			Timeout:      5 * time.Second,
		},
		Upstreams: []UpstreamConfig{
			{Name: UpstreamAuth, DisplayName: "Auth service", BaseURL: "http://localhost:5001", Timeout: 30 * time.Second},
			{Name: UpstreamProduct, DisplayName: "Product service", BaseURL: "http://localhost:5002", Timeout: 30 * time.Second},
		},
		Routes: []RouteConfig{
			{Prefix: "/auth", Upstream: UpstreamAuth, StripPrefix: true},
			{Prefix: "/products", Methods: []string{"GET"}, Upstream: UpstreamProduct},
			{Prefix: "/products", Upstream: UpstreamProduct, RequiresAuth: true},
		},
	}
}

// Load は設定を読み込む。
// 既定値を起点に、pathが空でなければYAMLファイルで上書きし、最後に環境変数で上書きする。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルのオープンに失敗: %s: %w", path, err)
		}
		defer f.Close()

		if err := cfg.decode(f); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader はYAMLを既定値に重ねて読み込む。環境変数による上書きは行わない。
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode は ${VAR} 形式の環境変数を展開してからYAMLをデコードする。
func (c *Config) decode(r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	expanded := os.ExpandEnv(string(content))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("設定YAMLのパースに失敗: %w", err)
	}
	return nil
}

// applyEnv は環境変数による上書きを適用する。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Port = v
	}
	if v, ok := lookup("AUTH_SERVICE_URL"); ok && v != "" {
		c.setUpstreamURL(UpstreamAuth, v)
	}
	if v, ok := lookup("PRODUCT_SERVICE_URL"); ok && v != "" {
		c.setUpstreamURL(UpstreamProduct, v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("EXPOSE_ERROR_DETAIL"); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ExposeErrorDetail = b
		}
	}
}

func (c *Config) setUpstreamURL(name, baseURL string) {
	for i := range c.Upstreams {
		if c.Upstreams[i].Name == name {
			c.Upstreams[i].BaseURL = baseURL
			return
		}
	}
}

// Upstream は名前で上流設定を検索する。
func (c *Config) Upstream(name string) (UpstreamConfig, bool) {
	for _, u := range c.Upstreams {
		if u.Name == name {
			return u, true
		}
	}
	return UpstreamConfig{}, false
}

// Validate は設定の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("portが空です"))
	}

	seen := make(map[string]struct{}, len(c.Upstreams))
	for _, u := range c.Upstreams {
		if u.Name == "" {
			errs = append(errs, errors.New("upstreamのnameが空です"))
			continue
		}
		if _, dup := seen[u.Name]; dup {
			errs = append(errs, fmt.Errorf("upstream %q が重複しています", u.Name))
		}
		seen[u.Name] = struct{}{}

		parsed, err := url.Parse(u.BaseURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("upstream %q のbase_urlが不正です: %q", u.Name, u.BaseURL))
		}
		if u.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("upstream %q のtimeoutは正の値が必要です", u.Name))
		}
	}

	for i, r := range c.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			errs = append(errs, fmt.Errorf("routes[%d]: prefixは/で始まる必要があります: %q", i, r.Prefix))
		}
		if _, ok := seen[r.Upstream]; !ok {
			errs = append(errs, fmt.Errorf("routes[%d]: 未定義のupstream %q", i, r.Upstream))
		}
	}

	if _, ok := seen[c.Auth.Upstream]; !ok {
		errs = append(errs, fmt.Errorf("auth: 未定義のupstream %q", c.Auth.Upstream))
	}
	if c.Auth.Timeout <= 0 {
		errs = append(errs, errors.New("auth: timeoutは正の値が必要です"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("設定が不正です: %w", errors.Join(errs...))
	}
	return nil
}
