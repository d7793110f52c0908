package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 项目统一日志接口，kv 为交替出现的键值对
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志配置
type Options struct {
	Level   string   // debug/info/warn/error
	Writers []string // console/file
	File    string   // file 写入路径
	Out     io.Writer
}

type zlog struct {
	z zerolog.Logger
}

// New 基于 zerolog 创建日志器
func New(opts Options) Logger {
	var ws []io.Writer
	if opts.Out != nil {
		ws = append(ws, opts.Out)
	}
	for _, w := range opts.Writers {
		switch strings.ToLower(w) {
		case "console":
			ws = append(ws, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			path := opts.File
			if path == "" {
				path = "logs/cdpintercept.log"
			}
			ws = append(ws, &lumberjack.Logger{
				Filename:   path,
				MaxSize:    20,
				MaxBackups: 5,
				MaxAge:     7,
				Compress:   true,
			})
		}
	}
	var out io.Writer
	switch len(ws) {
	case 0:
		out = io.Discard
	case 1:
		out = ws[0]
	default:
		out = zerolog.MultiLevelWriter(ws...)
	}
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	return &zlog{z: zerolog.New(out).Level(level).With().Timestamp().Logger()}
}

func (l *zlog) Debug(msg string, kv ...any) { l.z.Debug().Fields(fields(kv)).Msg(msg) }
func (l *zlog) Info(msg string, kv ...any)  { l.z.Info().Fields(fields(kv)).Msg(msg) }
func (l *zlog) Warn(msg string, kv ...any)  { l.z.Warn().Fields(fields(kv)).Msg(msg) }
func (l *zlog) Error(msg string, kv ...any) { l.z.Error().Fields(fields(kv)).Msg(msg) }

func (l *zlog) Err(err error, msg string, kv ...any) {
	l.z.Error().Err(err).Fields(fields(kv)).Msg(msg)
}

func (l *zlog) With(kv ...any) Logger {
	return &zlog{z: l.z.With().Fields(fields(kv)).Logger()}
}

// fields 把 kv 列表转为 zerolog 字段；key 非字符串时用 fmt 格式化
func fields(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]any, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 >= len(kv) {
			m[key] = "(MISSING)"
			break
		}
		m[key] = kv[i+1]
	}
	return m
}

type nop struct{}

// NewNop 不输出任何内容的日志器
func NewNop() Logger { return nop{} }

func (nop) Debug(string, ...any)      {}
func (nop) Info(string, ...any)       {}
func (nop) Warn(string, ...any)       {}
func (nop) Error(string, ...any)      {}
func (nop) Err(error, string, ...any) {}
func (n nop) With(...any) Logger      { return n }
