package gateway

import (
	"github.com/gin-gonic/gin"
)

// ErrorEnvelope はGatewayが生成するエラーレスポンスの形式。
type ErrorEnvelope struct {
	// Success は常にfalse。
	Success bool `json:"success"`
	// Message はクライアント向けのメッセージ。
	Message string `json:"message"`
	// Error は診断用の詳細。設定で無効化されている場合や詳細が無い場合は省略される。
	Error string `json:"error,omitempty"`
}

// respondError はエラーレスポンスを書き込んで後続の処理を中断する。
func (d *Dispatcher) respondError(c *gin.Context, status int, message, detail string) {
	envelope := ErrorEnvelope{Success: false, Message: message}
	if d.exposeErrorDetail {
		envelope.Error = detail
	}
	c.AbortWithStatusJSON(status, envelope)
}
