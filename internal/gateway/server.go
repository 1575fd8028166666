package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/commerce-gateway/internal/auth"
	"github.com/nao1215/commerce-gateway/internal/config"
	"github.com/nao1215/commerce-gateway/internal/route"
	"github.com/nao1215/commerce-gateway/pkg/middleware"
)

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// logger は構造化ロガー。
	logger *zap.Logger
	// registry はメトリクスのレジストリ。
	registry *prometheus.Registry
	// dispatcher は転送処理の本体。
	dispatcher *Dispatcher
	// validator はトークン検証を行う。Optionで差し替えられる。
	validator auth.Validator
	// transport は上流への転送に使うRoundTripper。Optionで差し替えられる。
	transport http.RoundTripper
	// httpServer はRunで起動するHTTPサーバー。
	httpServer *http.Server
}

// Option はServerの構築方法を変更する。
type Option func(*Server)

// WithValidator はトークン検証の実装を差し替える。
func WithValidator(v auth.Validator) Option {
	return func(s *Server) { s.validator = v }
}

// WithTransport は上流への転送に使うRoundTripperを差し替える。
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Server) { s.transport = rt }
}

// NewServer は新しいGatewayサーバーを生成する。
// cfgは起動時に一度だけ構築されたものを渡す。
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	table, err := route.NewTable(cfg)
	if err != nil {
		return nil, fmt.Errorf("ルートテーブルの構築に失敗: %w", err)
	}

	authUpstream, ok := cfg.Upstream(cfg.Auth.Upstream)
	if !ok {
		return nil, fmt.Errorf("認証サービスのupstream %q が見つかりません", cfg.Auth.Upstream)
	}

	s := &Server{
		port:     cfg.Port,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = auth.NewClient(authUpstream.BaseURL, cfg.Auth.ValidatePath, cfg.Auth.Timeout)
	}
	if s.transport == nil {
		s.transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(s.registry)

	s.dispatcher = &Dispatcher{
		table:             table,
		validator:         s.validator,
		forwarder:         newForwarder(table.Routes(), s.transport, metrics),
		logger:            logger,
		metrics:           metrics,
		exposeErrorDetail: cfg.ExposeErrorDetail,
	}

	router := gin.New()
	// ルートに無いパスはすべてディスパッチャーが扱うため、Ginのリダイレクトは無効にする
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AccessLog(logger, "/health", "/metrics"))
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	s.router = router
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// setupRoutes はルーティングを設定する。
// /health と /metrics 以外のリクエストはすべてディスパッチャーに渡す。
func (s *Server) setupRoutes() {
	// ヘルスチェック（上流には問い合わせない）
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	s.router.NoRoute(s.dispatcher.Handle)
}

// handleHealth はGatewayプロセス自身の生存確認ハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "API Gateway is running",
			"service": "api-gateway",
			"port":    s.port,
		})
	}
}

// Handler はGatewayのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。Shutdownが呼ばれるまで戻らない。
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	}
	return nil
}

// Shutdown は処理中のリクエストを待ってからサーバーを停止する。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
