// Package httpclient はサービス間のHTTP通信を行うJSONクライアントを提供する。
//
// Event Storeへのドメインイベント送信に使用する。
package httpclient
