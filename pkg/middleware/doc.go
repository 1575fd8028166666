// Package middleware はGatewayで使用する共通のGinミドルウェアを提供する。
//
// パニックリカバリ、CORS設定、リクエストIDの付与、アクセスログなど、
// ディスパッチャーの前段で全リクエストに適用するミドルウェアを含む。
package middleware
