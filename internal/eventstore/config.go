package eventstore

import (
	"os"
	"strconv"
)

// Config はイベントストアサービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DatabasePath はSQLiteのデータベースファイル。":memory:" も指定できる。
	DatabasePath string
	LogLevel     string
	LogPretty    bool
}

// LoadConfig は環境変数から設定を読み込む。
func LoadConfig() Config {
	cfg := Config{
		Port:         os.Getenv("PORT"),
		DatabasePath: os.Getenv("DATABASE_PATH"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
	}
	if cfg.Port == "" {
		cfg.Port = "8084"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/data/eventstore.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogPretty, _ = strconv.ParseBool(os.Getenv("LOG_PRETTY"))
	return cfg
}

func (c Config) dsn() string {
	if c.DatabasePath == ":memory:" {
		return c.DatabasePath
	}
	return c.DatabasePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
