// Package social はフォローと通知を提供するHTTPサービスを組み立てる。
//
// SQLiteのストア、フォローサービス、通知ディスパッチャ、WebSocketの
// 接続レジストリを配線し、/api/v1 配下のREST APIと /ws を公開する。
// フォローされたユーザーには通知が保存され、接続中であれば即座に配信される。
package social
