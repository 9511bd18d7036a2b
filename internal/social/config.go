package social

import (
	"os"
	"strconv"
	"strings"
)

// Config はサービスの設定。すべて環境変数から読み込む。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DatabasePath はSQLiteのデータベースファイル。":memory:" も指定できる。
	DatabasePath string
	// JWTSecret はJWT署名の検証に使う秘密鍵。
	JWTSecret string
	// FrontendURL はCORSとWebSocketのOriginとして許可するURL。カンマ区切りで複数指定できる。
	FrontendURL string
	// EventStoreURL はドメインイベントの送信先。空の場合は送信しない。
	EventStoreURL string
	// RedisAddr はインスタンス間配信に使うRedisのアドレス。空の場合はプロセス内配信のみ。
	RedisAddr string
	// RedisChannel はインスタンス間配信に使うチャネル名。
	RedisChannel string
	// LogLevel はログレベル（debug, info, warn, error）。
	LogLevel string
	// LogPretty がtrueの場合は開発向けのコンソール出力にする。
	LogPretty bool
	// DevTokenEnabled がtrueの場合は開発用トークン発行APIを有効にする。
	DevTokenEnabled bool
	// InternalToken はサービス間APIの認証トークン。空の場合は内部APIを公開しない。
	InternalToken string
}

// LoadConfig は環境変数から設定を読み込む。
func LoadConfig() Config {
	return Config{
		Port:            getEnvOr("PORT", "8087"),
		DatabasePath:    getEnvOr("DATABASE_PATH", "/data/social.db"),
		JWTSecret:       getEnvOr("JWT_SECRET", "dev-secret-key"),
		FrontendURL:     getEnvOr("FRONTEND_URL", "http://localhost:3000"),
		EventStoreURL:   os.Getenv("EVENTSTORE_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisChannel:    getEnvOr("REDIS_CHANNEL", "circle:realtime"),
		LogLevel:        getEnvOr("LOG_LEVEL", "info"),
		LogPretty:       getEnvBool("LOG_PRETTY", false),
		DevTokenEnabled: getEnvBool("DEV_TOKEN_ENABLED", true),
		InternalToken:   os.Getenv("INTERNAL_TOKEN"),
	}
}

// AllowedOrigins はFrontendURLを分割したOriginの一覧を返す。
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// dsn はSQLiteの接続文字列を返す。外部キー制約は接続ごとに有効化する。
func (c Config) dsn() string {
	if c.DatabasePath == ":memory:" {
		return c.DatabasePath + "?_pragma=foreign_keys(1)"
	}
	return c.DatabasePath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvBool は環境変数を真偽値として取得する。解釈できない場合はデフォルト値を返す。
func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}
