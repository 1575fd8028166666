// Package config はAPI Gatewayの設定を提供する。
//
// 設定は起動時に一度だけ構築され、ルートテーブルやディスパッチャーの
// コンストラクタへ明示的に渡される。リクエスト処理中に環境変数を
// 参照することはない。
package config
