// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの発行と検証、パニックリカバリ、CORS設定を含む。
// トークン検証処理（ParseToken）はWebSocketハンドシェイクでも共用する。
package middleware
