package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/commerce-gateway/internal/auth"
	"github.com/nao1215/commerce-gateway/internal/route"
	"github.com/nao1215/commerce-gateway/pkg/httpclient"
	"github.com/nao1215/commerce-gateway/pkg/middleware"
)

// Dispatcher はリクエストごとにルート解決、トークン検証、転送を順に行う。
// リクエスト間で共有する可変状態を持たない。
type Dispatcher struct {
	// table は起動時に構築されたルートテーブル。
	table *route.Table
	// validator はトークン検証を行う。
	validator auth.Validator
	// forwarder は上流への転送を行う。
	forwarder *forwarder
	// logger は構造化ロガー。
	logger *zap.Logger
	// metrics はPrometheusメトリクス。
	metrics *Metrics
	// exposeErrorDetail はエラーレスポンスにerrorフィールドを含めるかどうか。
	exposeErrorDetail bool
}

// Handle は1件のリクエストを処理するGinハンドラ。
// 失敗はすべてErrorEnvelopeに変換して応答し、再試行は行わない。
func (d *Dispatcher) Handle(c *gin.Context) {
	r, err := d.table.Resolve(c.Request.URL.Path, c.Request.Method)
	if err != nil {
		d.metrics.request(routeLabelNone, outcomeNotFound)
		d.respondError(c, http.StatusNotFound, MessageRouteNotFound, "")
		return
	}

	var identity *auth.Identity
	if r.RequiresAuth {
		id, outcome, ok := d.authenticate(c)
		if !ok {
			d.metrics.request(r.Name(), outcome)
			return
		}
		identity = &id
	}

	d.logger.Debug("上流へ転送します",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("upstream", r.Upstream.Name),
		zap.Bool("authenticated", identity != nil),
		zap.String("request_id", middleware.GetRequestID(c)),
	)

	err = d.forwarder.forward(c, r, identity)
	d.metrics.request(r.Name(), d.handleForwardError(c, r, err))
}

// authenticate はAuthorizationヘッダーのトークンを検証する。
// 検証に失敗した場合はエラーレスポンスを書き込み、ok=falseと結果ラベルを返す。
func (d *Dispatcher) authenticate(c *gin.Context) (auth.Identity, string, bool) {
	credential := c.GetHeader("Authorization")
	if strings.TrimSpace(credential) == "" {
		d.metrics.authValidation(authResultMissing)
		d.respondError(c, http.StatusUnauthorized, auth.MessageNoCredential, "")
		return auth.Identity{}, outcomeUnauthenticated, false
	}

	ctx := httpclient.WithRequestID(c.Request.Context(), middleware.GetRequestID(c))
	identity, err := d.validator.Validate(ctx, credential)
	if err == nil {
		d.metrics.authValidation(authResultOK)
		return identity, "", true
	}

	var ve *auth.ValidationError
	switch {
	case errors.Is(err, auth.ErrNoCredential):
		d.metrics.authValidation(authResultMissing)
		d.respondError(c, http.StatusUnauthorized, auth.MessageNoCredential, "")
		return auth.Identity{}, outcomeUnauthenticated, false
	case errors.As(err, &ve) && ve.Kind == auth.KindRejected:
		d.metrics.authValidation(authResultRejected)
		d.respondError(c, http.StatusUnauthorized, ve.Reason, ve.Detail)
		return auth.Identity{}, outcomeRejected, false
	case errors.As(err, &ve):
		d.metrics.authValidation(authResultUnavailable)
		d.logger.Warn("認証サービスでトークンを検証できません",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(c)),
		)
		d.respondError(c, http.StatusUnauthorized, ve.Reason, ve.Detail)
		return auth.Identity{}, outcomeAuthUnavailable, false
	default:
		// 未知のエラーも認証サービス利用不可として扱う
		d.metrics.authValidation(authResultUnavailable)
		d.logger.Warn("トークン検証で予期しないエラー",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(c)),
		)
		d.respondError(c, http.StatusUnauthorized, auth.MessageInvalidToken, err.Error())
		return auth.Identity{}, outcomeAuthUnavailable, false
	}
}

// handleForwardError は転送結果をレスポンスに反映し、結果ラベルを返す。
func (d *Dispatcher) handleForwardError(c *gin.Context, r *route.Route, err error) string {
	if err == nil {
		return outcomeForwarded
	}

	requestID := middleware.GetRequestID(c)

	var upstreamErr *UpstreamError
	var relayErr *relayError
	switch {
	case errors.Is(err, errClientGone):
		d.logger.Debug("クライアントが応答前に切断しました",
			zap.String("upstream", r.Upstream.Name),
			zap.String("request_id", requestID),
		)
		c.Abort()
		return outcomeClientClosed
	case errors.As(err, &upstreamErr):
		d.logger.Error("上流サービスに接続できません",
			zap.String("upstream", r.Upstream.Name),
			zap.Error(upstreamErr.Cause),
			zap.String("request_id", requestID),
		)
		d.respondError(c, http.StatusInternalServerError, upstreamErr.Message(), upstreamErr.Detail())
		return outcomeUpstreamUnavailable
	case errors.As(err, &relayErr):
		// ステータスは送信済みなのでログのみ
		d.logger.Warn("上流レスポンスの中継が中断しました",
			zap.String("upstream", r.Upstream.Name),
			zap.Error(err),
			zap.String("request_id", requestID),
		)
		c.Abort()
		return outcomeForwarded
	default:
		d.logger.Error("転送リクエストの処理に失敗しました",
			zap.String("upstream", r.Upstream.Name),
			zap.Error(err),
			zap.String("request_id", requestID),
		)
		d.respondError(c, http.StatusInternalServerError, MessageInternalError, "")
		return outcomeInternalError
	}
}
