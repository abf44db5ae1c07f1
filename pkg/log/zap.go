package log

import (
	"fmt"
	"os"
	"strings"
	"time"

	"RouteLane/internal/conf"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const envDevelopment = "development"

// Sampling applies per message and level within each one-second tick.
const (
	sampleFirst      = 100
	sampleThereafter = 10
)

// customTimeEncoder 格式化时间为 [2006-01-02 15:04:05.000] (UTC)
func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("[2006-01-02 15:04:05.000]"))
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// resolveEnv falls back to ROUTELANE_ENV, then production.
func resolveEnv(env string) string {
	if env != "" {
		return env
	}
	if env = os.Getenv("ROUTELANE_ENV"); env != "" {
		return env
	}
	return "production"
}

// NewZapLogger builds the process logger.
//
// Console output is split by level: entries below ERROR go to stdout, ERROR
// and above to stderr. When cfg.OutputFile is set every enabled entry is
// also written as JSON to a rotated file. Outside development, repeated
// entries are sampled so a flapping downstream cannot flood the sinks.
func NewZapLogger(cfg *conf.Log) (*zap.Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("log config is nil")
	}

	env := resolveEnv(cfg.Env)
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encCfg := encoderConfig()
	console := zapcore.NewJSONEncoder(encCfg)
	if strings.EqualFold(cfg.Format, "console") || env == envDevelopment {
		console = NewEmojiConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(os.Stdout), zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= level && lvl < zapcore.ErrorLevel
		})),
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= level && lvl >= zapcore.ErrorLevel
		})),
	}

	if cfg.OutputFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    100, // megabytes
			MaxAge:     7,   // days
			MaxBackups: 7,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	if env != envDevelopment {
		core = zapcore.NewSamplerWithOptions(core, time.Second, sampleFirst, sampleThereafter)
	}

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", "RouteLane")),
	), nil
}
