package auth

import (
	"errors"
	"fmt"
)

// クライアントに返すメッセージ。
const (
	// MessageNoCredential はAuthorizationヘッダーが無い場合のメッセージ。
	MessageNoCredential = "Access denied. No token provided."
	// MessageInvalidToken はトークンが無効、または検証できなかった場合のメッセージ。
	MessageInvalidToken = "Invalid or expired token"
)

// ErrNoCredential はトークンが渡されなかったことを表す。
var ErrNoCredential = errors.New("no credential provided")

// Kind は検証失敗の種類。
type Kind int

const (
	// KindRejected は認証サービスがトークンを無効と判定したことを表す。
	KindRejected Kind = iota + 1
	// KindUnavailable は認証サービスに到達できない、タイムアウトした、
	// または不正なレスポンスを返したことを表す。
	KindUnavailable
)

// String は種類の名前を返す。
func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ValidationError はトークン検証の失敗を表す。
type ValidationError struct {
	// Kind は失敗の種類。
	Kind Kind
	// Reason はクライアントに返すメッセージ。
	Reason string
	// Detail は診断用の詳細（認証サービスのメッセージや接続エラー）。
	Detail string
	// Cause は元になったエラー。
	Cause error
}

// Error はエラーメッセージを返す。
func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("token %s: %s: %s", e.Kind, e.Reason, e.Detail)
	}
	return fmt.Sprintf("token %s: %s", e.Kind, e.Reason)
}

// Unwrap は元になったエラーを返す。
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func rejected(detail string, cause error) *ValidationError {
	return &ValidationError{Kind: KindRejected, Reason: MessageInvalidToken, Detail: detail, Cause: cause}
}

func unavailable(detail string, cause error) *ValidationError {
	return &ValidationError{Kind: KindUnavailable, Reason: MessageInvalidToken, Detail: detail, Cause: cause}
}

// IsRejected はerrがトークン拒否であるかを判定する。
func IsRejected(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == KindRejected
}

// IsUnavailable はerrが認証サービスの利用不可であるかを判定する。
func IsUnavailable(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == KindUnavailable
}
