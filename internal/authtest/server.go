// Package authtest はテスト用の認証サービスを提供する。
//
// 実際の認証サービスと同じ GET /validate-token 契約を持つHTTPサーバーを
// プロセス内で起動し、HS256で署名したJWTを発行・検証する。
// 検証エンドポイントの呼び出し回数を数えるため、Gatewayが上流を
// 呼んだか呼ばなかったかをテストで確認できる。
package authtest

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ValidatePath は検証エンドポイントのパス。
const ValidatePath = "/validate-token"

// User はトークンに埋め込むユーザー情報。
type User struct {
	// ID はユーザーの一意識別子。
	ID string
	// Role はユーザーのロール。
	Role string
	// Email はユーザーのメールアドレス。
	Email string
}

// Claims はJWTのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// UserID はユーザーID。
	UserID string `json:"id"`
	// Role はユーザーのロール。
	Role string `json:"role"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

// Server はテスト用の認証サービス。
type Server struct {
	*httptest.Server
	// secret はJWT署名用の秘密鍵。
	secret []byte
	// calls は検証エンドポイントの呼び出し回数。
	calls atomic.Int64
	// delay は検証レスポンスを返すまでの待ち時間。
	delay time.Duration
}

// Option はServerの設定を変更する。
type Option func(*Server)

// WithDelay は検証レスポンスを返すまで指定時間待つようにする。
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// NewServer はテスト用の認証サービスを起動する。
// サーバーはテスト終了時に停止される。
func NewServer(tb testing.TB, opts ...Option) *Server {
	tb.Helper()

	s := &Server{secret: []byte("authtest-secret")}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.GET(ValidatePath, s.handleValidate)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Auth Service is running", "service": "auth-service"})
	})

	s.Server = httptest.NewServer(router)
	tb.Cleanup(s.Close)
	return s
}

// Calls は検証エンドポイントが呼ばれた回数を返す。
func (s *Server) Calls() int64 {
	return s.calls.Load()
}

// Issue はユーザーの有効なトークンを "Bearer <jwt>" 形式で返す。
func (s *Server) Issue(tb testing.TB, u User) string {
	tb.Helper()
	return s.sign(tb, u, time.Now().Add(time.Hour))
}

// IssueExpired は期限切れのトークンを返す。
func (s *Server) IssueExpired(tb testing.TB, u User) string {
	tb.Helper()
	return s.sign(tb, u, time.Now().Add(-time.Hour))
}

func (s *Server) sign(tb testing.TB, u User, expiresAt time.Time) string {
	tb.Helper()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "auth-service",
		},
		UserID: u.ID,
		Role:   u.Role,
		Email:  u.Email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		tb.Fatalf("JWTトークンの署名に失敗: %v", err)
	}
	return "Bearer " + signed
}

// handleValidate はトークンを検証してユーザー情報を返す。
func (s *Server) handleValidate(c *gin.Context) {
	s.calls.Add(1)

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-c.Request.Context().Done():
			return
		}
	}

	header := c.GetHeader("Authorization")
	if header == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "No token provided"})
		return
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		message := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			message = "jwt expired"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Token is valid",
		"data": gin.H{
			"user": gin.H{
				"id":    claims.UserID,
				"role":  claims.Role,
				"email": claims.Email,
			},
		},
	})
}
