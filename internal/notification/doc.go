// Package notification は通知の永続化とリアルタイム配信を行う。
//
// Dispatcher は通知を先に保存し、その後で受信者の接続へ
// new_notification イベントをベストエフォートで送る。
// 送信の失敗は呼び出し元に返さない。保存済みの通知は一覧APIで必ず取得できる。
package notification
