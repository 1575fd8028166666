package gateway

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/nao1215/commerce-gateway/internal/route"
)

// クライアントに返すメッセージ。
const (
	// MessageRouteNotFound はどのルートにもマッチしなかった場合のメッセージ。
	MessageRouteNotFound = "Route not found. Please check the API documentation at /api-docs"
	// MessageInternalError は予期しない内部エラーのメッセージ。
	MessageInternalError = "Internal server error"
)

// errClientGone はクライアントが応答前に切断したことを表す。
var errClientGone = errors.New("client closed request")

// UpstreamError は上流サービスへの転送に失敗したことを表す。
// レスポンスヘッダーを書き込む前の失敗にのみ使う。
type UpstreamError struct {
	// Upstream は失敗した上流。
	Upstream *route.Upstream
	// Cause は元になったエラー。
	Cause error
}

// Error はエラーメッセージを返す。
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message(), e.Cause)
}

// Unwrap は元になったエラーを返す。
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Message はクライアントに返すメッセージ（例: "Product service is unavailable"）を返す。
func (e *UpstreamError) Message() string {
	name := e.Upstream.DisplayName
	if name == "" {
		name = e.Upstream.Name
	}
	return name + " is unavailable"
}

// Detail は診断用の詳細を返す。URLを含まない接続エラー部分だけを取り出す。
func (e *UpstreamError) Detail() string {
	var urlErr *url.Error
	if errors.As(e.Cause, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return e.Cause.Error()
}

// relayError は上流のレスポンスをクライアントへ中継している途中で失敗したことを表す。
// ステータスコードは送信済みのため、エラーレスポンスには変換できない。
type relayError struct {
	cause error
}

func (e *relayError) Error() string { return "レスポンスの中継に失敗: " + e.cause.Error() }

func (e *relayError) Unwrap() error { return e.cause }
