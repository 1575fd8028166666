// Package auth は認証サービスに問い合わせてBearerトークンを検証するクライアントを提供する。
//
// Gatewayはトークンを自身で解釈しない。トークンはそのまま認証サービスの
// 検証エンドポイントへ渡され、結果として呼び出し元のIdentityを得る。
// 1回の検証につき上流呼び出しはちょうど1回で、失敗しても再試行しない。
package auth
