// Package eventstore はイベントストアサービスの内部実装を提供する。
//
// socialサービスが発行するフォロー・通知のドメインイベントを受け取り、
// 追記のみで永続化する。イベントはAggregateごとに1から始まる連番を持つ。
//
// 主な機能:
//   - イベントの追記（Append）
//   - AggregateIDによるイベント取得
//   - イベントタイプ・日時によるイベント取得
package eventstore
