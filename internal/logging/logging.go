// Package logging はzerologによる構造化ログを提供します。
//
// 標準ライブラリの log パッケージの出力もzerologへ転送されるため、
// 既存の log.Printf 呼び出しもJSON形式で出力されます。
package logging

import (
	"context"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config はロガーの設定
type Config struct {
	Level   string
	Pretty  bool
	Service string
	Output  io.Writer // nil の場合は標準出力
}

// ログフィールド名
const (
	FieldService    = "service"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldLatency    = "latency_ms"
	FieldClientIP   = "client_ip"
	FieldViewerID   = "viewer_id"
	FieldRemoteAddr = "remote_addr"
	FieldSeq        = "seq"
	FieldAttempt    = "attempt"
	FieldDevice     = "device"
)

var (
	global zerolog.Logger
	once   sync.Once
)

func init() {
	// Init 前の既定ロガー
	global = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// New は設定に従ったロガーを作成する
func New(cfg Config) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Output != nil {
		w = cfg.Output
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	if cfg.Service != "" {
		logger = logger.With().Str(FieldService, cfg.Service).Logger()
	}

	return logger
}

// Init はグローバルロガーを初期化する。起動時に一度だけ呼ぶ
func Init(cfg Config) zerolog.Logger {
	once.Do(func() {
		global = New(cfg)

		// 標準ライブラリのlogをzerologへ転送
		stdlog.SetFlags(0)
		stdlog.SetOutput(global.With().Str("source", "stdlog").Logger())
	})
	return global
}

// L はグローバルロガーを返す
func L() zerolog.Logger {
	return global
}

// Nop は何も出力しないロガーを返す（テスト用）
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

type ctxKey struct{}

// WithLogger はロガーをコンテキストに格納する
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx はコンテキストからロガーを取り出す。無ければグローバルロガーを返す
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
