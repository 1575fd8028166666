package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nao1215/commerce-gateway/internal/auth"
	"github.com/nao1215/commerce-gateway/internal/authtest"
	"github.com/nao1215/commerce-gateway/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testAdmin は認証付きルートのテストで使う管理者ユーザー。
var testAdmin = authtest.User{ID: "u1", Role: "ADMIN", Email: "a@x.com"}

// recordedRequest はモック上流が受け取ったリクエスト。
type recordedRequest struct {
	Method      string
	Path        string
	EscapedPath string
	RawQuery    string
	Host        string
	Header      http.Header
	Body        string
}

// recordingBackend は受け取ったリクエストを記録するモック上流サービス。
type recordingBackend struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

// newRecordingBackend はモック上流を起動する。handlerがnilなら200でJSONを返す。
func newRecordingBackend(t *testing.T, handler http.HandlerFunc) *recordingBackend {
	t.Helper()

	b := &recordingBackend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.requests = append(b.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			EscapedPath: r.URL.EscapedPath(),
			RawQuery:    r.URL.RawQuery,
			Host:        r.Host,
			Header:      r.Header.Clone(),
			Body:        string(body),
		})
		b.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "product")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"path":    r.URL.Path,
			"user":    r.Header.Get(HeaderUserID),
		})
	}))
	t.Cleanup(b.Close)
	return b
}

// Requests は記録したリクエストのコピーを返す。
func (b *recordingBackend) Requests() []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedRequest(nil), b.requests...)
}

// testEnv はGatewayと上流のテスト環境。
type testEnv struct {
	gw      *Server
	auth    *authtest.Server
	product *recordingBackend
}

// newTestEnv はテスト用の認証サービス・商品サービスとGatewayを起動する。
// mutateで設定を変更できる。
func newTestEnv(t *testing.T, mutate func(*config.Config), opts ...Option) *testEnv {
	t.Helper()

	env := &testEnv{
		auth:    authtest.NewServer(t),
		product: newRecordingBackend(t, nil),
	}

	cfg := config.Default()
	cfg.Port = "5000"
	cfg.Upstreams[0].BaseURL = env.auth.URL
	cfg.Upstreams[1].BaseURL = env.product.URL
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	gw, err := NewServer(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	env.gw = gw
	return env
}

// do はGatewayにリクエストを送ってレスポンスを記録する。
func (e *testEnv) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(w, req)
	return w
}

// decodeEnvelope はレスポンスをErrorEnvelopeとしてパースする。
func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body=%s", w.Body.String())
	return body
}

// validatorFunc は関数をauth.Validatorとして扱う。
type validatorFunc func(ctx context.Context, credential string) (auth.Identity, error)

// Validate はfを呼び出す。
func (f validatorFunc) Validate(ctx context.Context, credential string) (auth.Identity, error) {
	return f(ctx, credential)
}

// closedServerURL は接続を拒否するURLを返す。
func closedServerURL(t *testing.T) string {
	t.Helper()

	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	return url
}
