// Package logger はzapによる構造化ロガーの生成を提供する。
//
// アプリケーションログは本パッケージのロガーで出力し、
// HTTPアクセスログはgin.Logger()に任せる。
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New はログレベルと出力形式を指定してzapロガーを生成する。
// prettyがtrueの場合は開発向けのカラー付きコンソール出力、falseの場合はJSON出力となる。
// levelに未知の値が渡された場合はinfoレベルとして扱う。
func New(level string, pretty bool) (*zap.Logger, error) {
	var cfg zap.Config
	if pretty {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	l, err := cfg.Build(zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return nil, fmt.Errorf("ロガーの生成に失敗: %w", err)
	}
	return l, nil
}

// ParseLevel はログレベル文字列をzapcore.Levelに変換する。
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Nop は何も出力しないロガーを返す。テストで使用する。
func Nop() *zap.Logger {
	return zap.NewNop()
}
