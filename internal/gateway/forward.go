package gateway

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/commerce-gateway/internal/auth"
	"github.com/nao1215/commerce-gateway/internal/route"
)

// 上流に渡すユーザー情報ヘッダー。
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
)

// hopHeaders は転送しないホップバイホップヘッダー。
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// forwarder はリクエストを上流サービスへ転送し、レスポンスをそのまま中継する。
type forwarder struct {
	// clients は上流名ごとのHTTPクライアント。タイムアウトは上流ごとに異なる。
	clients map[string]*http.Client
	// transport は全上流で共有するコネクションプール。
	transport http.RoundTripper
	// metrics は転送のメトリクス。
	metrics *Metrics
}

func newForwarder(routes []route.Route, transport http.RoundTripper, metrics *Metrics) *forwarder {
	f := &forwarder{
		clients:   make(map[string]*http.Client),
		transport: transport,
		metrics:   metrics,
	}
	for _, r := range routes {
		if _, ok := f.clients[r.Upstream.Name]; ok {
			continue
		}
		f.clients[r.Upstream.Name] = &http.Client{
			Transport: transport,
			Timeout:   r.Upstream.Timeout,
			// リダイレクトは追わずにクライアントへそのまま返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return f
}

// forward はリクエストを上流へ転送する。
// identityがnilでなければユーザー情報ヘッダーを付与する。
// 上流に接続できなかった場合は *UpstreamError を、レスポンス中継中の失敗は *relayError を返す。
func (f *forwarder) forward(c *gin.Context, r *route.Route, identity *auth.Identity) error {
	in := c.Request
	target := r.Target(in.URL.EscapedPath())
	path, err := url.PathUnescape(target.Path)
	if err != nil {
		return err
	}

	outURL := *target.BaseURL
	outURL.Path = path
	outURL.RawPath = target.Path
	outURL.RawQuery = in.URL.RawQuery
	outURL.Fragment = ""

	var body io.Reader
	if in.Body != nil && in.Body != http.NoBody && in.ContentLength != 0 {
		body = in.Body
	}

	out, err := http.NewRequestWithContext(in.Context(), in.Method, outURL.String(), body)
	if err != nil {
		return err
	}
	if body != nil {
		out.ContentLength = in.ContentLength
	}

	out.Header = in.Header.Clone()
	removeHopHeaders(out.Header)
	out.Header.Del(HeaderUserID)
	out.Header.Del(HeaderUserRole)
	out.Header.Del(HeaderUserEmail)
	if identity != nil {
		out.Header.Set(HeaderUserID, identity.ID)
		out.Header.Set(HeaderUserRole, identity.Role)
		out.Header.Set(HeaderUserEmail, identity.Email)
	}
	setForwardedHeaders(out.Header, in)

	client, ok := f.clients[r.Upstream.Name]
	if !ok {
		client = &http.Client{Transport: f.transport, Timeout: r.Upstream.Timeout}
	}

	start := time.Now()
	resp, err := client.Do(out)
	f.metrics.observeUpstream(r.Upstream.Name, time.Since(start))
	if err != nil {
		if in.Context().Err() != nil {
			return errClientGone
		}
		f.metrics.upstreamFailed(r.Upstream.Name)
		return &UpstreamError{Upstream: r.Upstream, Cause: err}
	}
	defer resp.Body.Close()

	// 上流の値はミドルウェアが設定済みの同名ヘッダー（CORS, X-Request-ID）を置き換える
	header := c.Writer.Header()
	for k, vs := range resp.Header {
		header[k] = append([]string(nil), vs...)
	}
	removeHopHeaders(header)

	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		return &relayError{cause: err}
	}
	return nil
}

// removeHopHeaders はホップバイホップヘッダーと、Connectionヘッダーで列挙されたヘッダーを削除する。
func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// setForwardedHeaders は X-Forwarded-* ヘッダーを設定する。
func setForwardedHeaders(h http.Header, in *http.Request) {
	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		h.Set("X-Forwarded-For", ip)
	}
	h.Set("X-Forwarded-Host", in.Host)
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
}
