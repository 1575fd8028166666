package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/commerce-gateway/internal/authtest"
)

// TestClientValidate は認証サービスを使った検証を検証する。
func TestClientValidate(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンからIdentityを得ること", func(t *testing.T) {
		t.Parallel()

		backend := authtest.NewServer(t)
		token := backend.Issue(t, authtest.User{ID: "u1", Role: "ADMIN", Email: "a@x.com"})

		client := NewClient(backend.URL, authtest.ValidatePath, time.Second)
		id, err := client.Validate(context.Background(), token)
		require.NoError(t, err)

		assert.Equal(t, Identity{ID: "u1", Role: "ADMIN", Email: "a@x.com"}, id)
		assert.EqualValues(t, 1, backend.Calls())
	})

	t.Run("空のトークンは上流を呼ばずにErrNoCredentialを返すこと", func(t *testing.T) {
		t.Parallel()

		backend := authtest.NewServer(t)
		client := NewClient(backend.URL, authtest.ValidatePath, time.Second)

		_, err := client.Validate(context.Background(), "")
		assert.ErrorIs(t, err, ErrNoCredential)
		assert.Zero(t, backend.Calls())
	})

	t.Run("期限切れトークンはRejectedになること", func(t *testing.T) {
		t.Parallel()

		backend := authtest.NewServer(t)
		token := backend.IssueExpired(t, authtest.User{ID: "u1"})

		client := NewClient(backend.URL, authtest.ValidatePath, time.Second)
		_, err := client.Validate(context.Background(), token)

		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, KindRejected, ve.Kind)
		assert.Equal(t, MessageInvalidToken, ve.Reason)
		assert.Equal(t, "jwt expired", ve.Detail)
		assert.True(t, IsRejected(err))
		assert.False(t, IsUnavailable(err))
	})

	t.Run("改ざんされたトークンはRejectedになること", func(t *testing.T) {
		t.Parallel()

		backend := authtest.NewServer(t)
		client := NewClient(backend.URL, authtest.ValidatePath, time.Second)

		_, err := client.Validate(context.Background(), "Bearer not-a-jwt")
		assert.True(t, IsRejected(err))
		assert.EqualValues(t, 1, backend.Calls(), "再試行しない")
	})

	t.Run("認証サービスに接続できない場合はUnavailableになること", func(t *testing.T) {
		t.Parallel()

		client := NewClient("http://127.0.0.1:1", authtest.ValidatePath, time.Second)
		_, err := client.Validate(context.Background(), "Bearer token")

		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, KindUnavailable, ve.Kind)
		assert.Equal(t, MessageInvalidToken, ve.Reason)
		assert.Contains(t, ve.Detail, "connection refused")
	})

	t.Run("タイムアウトした場合はUnavailableになること", func(t *testing.T) {
		t.Parallel()

		backend := authtest.NewServer(t, authtest.WithDelay(2*time.Second))
		token := backend.Issue(t, authtest.User{ID: "u1"})

		client := NewClient(backend.URL, authtest.ValidatePath, 50*time.Millisecond)
		start := time.Now()
		_, err := client.Validate(context.Background(), token)

		assert.True(t, IsUnavailable(err))
		assert.Less(t, time.Since(start), time.Second)
	})
}

// TestClientValidateResponses は認証サービスのレスポンス形式ごとの扱いを検証する。
func TestClientValidateResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   Kind
		wantDetail string
		wantID     Identity
	}{
		{
			name:   "数値のIDを文字列として受け取ること",
			status: http.StatusOK,
			body:   `{"success":true,"data":{"user":{"id":42,"role":"USER","email":"b@x.com"}}}`,
			wantID: Identity{ID: "42", Role: "USER", Email: "b@x.com"},
		},
		{
			name:       "200でもsuccessがfalseならRejected",
			status:     http.StatusOK,
			body:       `{"success":false,"message":"Invalid token"}`,
			wantKind:   KindRejected,
			wantDetail: "Invalid token",
		},
		{
			name:       "success:falseの403はRejected",
			status:     http.StatusForbidden,
			body:       `{"success":false,"message":"Forbidden"}`,
			wantKind:   KindRejected,
			wantDetail: "Forbidden",
		},
		{
			name:       "JSONでない403はUnavailable",
			status:     http.StatusForbidden,
			body:       `forbidden`,
			wantKind:   KindUnavailable,
			wantDetail: "status 403",
		},
		{
			name:       "検証パスが存在しない404はUnavailable",
			status:     http.StatusNotFound,
			body:       `<!DOCTYPE html><html><body>Cannot GET /validate</body></html>`,
			wantKind:   KindUnavailable,
			wantDetail: "status 404",
		},
		{
			name:       "successを含まない4xxのJSONはUnavailable",
			status:     http.StatusMethodNotAllowed,
			body:       `{"message":"Method Not Allowed"}`,
			wantKind:   KindUnavailable,
			wantDetail: "Method Not Allowed",
		},
		{
			name:       "5xxはUnavailable",
			status:     http.StatusInternalServerError,
			body:       `{"success":false,"message":"Internal server error"}`,
			wantKind:   KindUnavailable,
			wantDetail: "Internal server error",
		},
		{
			name:       "ユーザー情報が無いレスポンスはUnavailable",
			status:     http.StatusOK,
			body:       `{"success":true,"data":{}}`,
			wantKind:   KindUnavailable,
			wantDetail: "malformed validation response",
		},
		{
			name:     "JSONでないレスポンスはUnavailable",
			status:   http.StatusOK,
			body:     `<html>`,
			wantKind: KindUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotAuth string
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			client := NewClient(ts.URL, "/validate-token", time.Second)
			id, err := client.Validate(context.Background(), "opaque-token")
			assert.Equal(t, "opaque-token", gotAuth, "トークンは加工せずに渡す")

			if tt.wantKind == 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, id)
				return
			}

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.wantKind, ve.Kind)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, ve.Detail)
			}
		})
	}
}

// TestValidationError はエラー型の振る舞いを検証する。
func TestValidationError(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	err := unavailable(cause.Error(), cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "token unavailable: Invalid or expired token: dial tcp: connection refused", err.Error())
	assert.Equal(t, "rejected", KindRejected.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
