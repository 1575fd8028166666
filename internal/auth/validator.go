package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nao1215/commerce-gateway/pkg/httpclient"
)

// Identity は検証済みトークンに紐づく呼び出し元の情報。
// 1リクエストの間だけ存在し、永続化されない。
type Identity struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Role はユーザーのロール（例: "ADMIN"）。
	Role string `json:"role"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

// Validator はBearerトークンを検証してIdentityを返す。
type Validator interface {
	Validate(ctx context.Context, credential string) (Identity, error)
}

// Client は認証サービスの検証エンドポイントを呼び出すValidator。
type Client struct {
	// http は認証サービスへのHTTPクライアント。
	http *httpclient.Client
	// validatePath は検証エンドポイントのパス。
	validatePath string
}

// NewClient は新しい検証クライアントを生成する。
func NewClient(baseURL, validatePath string, timeout time.Duration) *Client {
	return &Client{
		http:         httpclient.New(baseURL, timeout),
		validatePath: validatePath,
	}
}

// validateResponse は検証エンドポイントのレスポンス。
type validateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *struct {
		User *userPayload `json:"user"`
	} `json:"data"`
}

// userPayload は認証サービスが返すユーザー情報。
type userPayload struct {
	ID    flexString `json:"id"`
	Role  flexString `json:"role"`
	Email flexString `json:"email"`
}

// flexString は文字列と数値のどちらのJSON値も文字列として受け取る。
type flexString string

// UnmarshalJSON はJSON値を文字列として取り込む。
func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Validate はトークンを認証サービスに問い合わせて検証する。
// トークンは加工せずAuthorizationヘッダーにそのまま載せる。
// 空のトークンは上流を呼ばずに ErrNoCredential を返す。
func (c *Client) Validate(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrNoCredential
	}

	header := http.Header{}
	header.Set("Authorization", credential)

	var resp validateResponse
	if err := c.http.GetJSON(ctx, c.validatePath, header, &resp); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			// 4xxでも {success:false} 形式でなければ検証パスの設定誤りなどとみなす
			if statusErr.StatusCode < 500 {
				if message, ok := rejectionFromBody(statusErr.Body); ok {
					if message == "" {
						message = "status " + strconv.Itoa(statusErr.StatusCode)
					}
					return Identity{}, rejected(message, err)
				}
			}
			detail := messageFromBody(statusErr.Body)
			if detail == "" {
				detail = "status " + strconv.Itoa(statusErr.StatusCode)
			}
			return Identity{}, unavailable(detail, err)
		}
		return Identity{}, unavailable(err.Error(), err)
	}

	if !resp.Success {
		return Identity{}, rejected(resp.Message, nil)
	}
	if resp.Data == nil || resp.Data.User == nil || resp.Data.User.ID == "" {
		return Identity{}, unavailable("malformed validation response", nil)
	}

	return Identity{
		ID:    string(resp.Data.User.ID),
		Role:  string(resp.Data.User.Role),
		Email: string(resp.Data.User.Email),
	}, nil
}

// rejectionFromBody はボディが {success:false, message} 形式ならmessageとtrueを返す。
func rejectionFromBody(body []byte) (string, bool) {
	var v struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &v); err != nil || v.Success == nil || *v.Success {
		return "", false
	}
	return v.Message, true
}

// messageFromBody はJSONボディからmessageを取り出す。
func messageFromBody(body []byte) string {
	var v struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}
	return v.Message
}
