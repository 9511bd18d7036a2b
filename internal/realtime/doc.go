// Package realtime はユーザーごとのWebSocket接続を管理し、イベントを配信する。
//
// Registry はユーザーIDから接続集合への対応を保持する。1人のユーザーが
// 複数の端末から同時に接続でき、Emit はそのすべてに同じフレームを送る。
// 接続がないユーザーへの Emit はエラーではなく、配信数0として扱う。
//
// 複数インスタンスで動かす場合は RedisRelay を使い、
// Redis pub/sub 経由で全インスタンスのRegistryへ配信する。
package realtime
