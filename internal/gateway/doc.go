// Package gateway はAPI Gatewayの内部実装を提供する。
//
// 受け付けたリクエストごとにルートテーブルで転送先を解決し、必要なら
// 認証サービスでトークンを検証してから上流サービスへ転送する。
// 検証済みのユーザー情報は x-user-id / x-user-role / x-user-email ヘッダーとして
// 上流に渡す。途中で発生したすべての失敗は、接続を閉じる前に
// {success, message, error} 形式のJSONに変換してクライアントへ返す。
package gateway
