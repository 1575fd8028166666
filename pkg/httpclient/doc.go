// Package httpclient は上流サービスを呼び出すHTTPクライアントを提供する。
//
// Gatewayが認証サービスのトークン検証エンドポイントを呼び出す際に使用する。
// 呼び出しは必ずタイムアウト付きで1回だけ行い、失敗しても再試行しない。
package httpclient
