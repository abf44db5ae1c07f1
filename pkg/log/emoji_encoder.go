package log

import (
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// typeEmoji 日志类型 ("type" 字段) 到表情符号的映射
var typeEmoji = map[string]string{
	"request":      "🌐",
	"registry":     "📇",
	"probe":        "🩺",
	"breaker":      "🔌",
	"route":        "🚪",
	"discovery":    "📦",
	"database":     "💾",
	"startup":      "🚀",
	"audit":        "📋",
	"slow_request": "🐌",
}

// breakerEmoji marks the target state ("to" field) of breaker transitions.
var breakerEmoji = map[string]string{
	"open":      "⛔",
	"half_open": "🚧",
	"closed":    "✅",
}

// healthEmoji marks registry health changes ("health" field).
var healthEmoji = map[string]string{
	"healthy":   "💚",
	"unhealthy": "💔",
}

var levelEmoji = map[zapcore.Level]string{
	zapcore.DebugLevel:  "🐛",
	zapcore.InfoLevel:   "ℹ️",
	zapcore.WarnLevel:   "⚠️",
	zapcore.ErrorLevel:  "❌",
	zapcore.DPanicLevel: "❌",
	zapcore.PanicLevel:  "❌",
	zapcore.FatalLevel:  "❌",
}

// statusEmoji 根据 HTTP 状态码返回表情符号
func statusEmoji(status int) string {
	switch {
	case status >= 500:
		return "🔴"
	case status >= 400:
		return "🟠"
	case status >= 300:
		return "🟡"
	default:
		return "🟢"
	}
}

// EmojiConsoleEncoder wraps zap's console encoder and prefixes each message
// with an emoji chosen from the entry's fields.
type EmojiConsoleEncoder struct {
	zapcore.Encoder
}

// NewEmojiConsoleEncoder 创建带表情符号的控制台编码器
func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

// EncodeEntry picks the emoji by precedence: HTTP status, breaker target
// state, health, log type, then level.
func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if emoji := pickEmoji(entry.Level, fields); emoji != "" {
		entry.Message = emoji + " " + entry.Message
	}
	return enc.Encoder.EncodeEntry(entry, fields)
}

func pickEmoji(level zapcore.Level, fields []zapcore.Field) string {
	var logType, to, health string
	var status int64

	for _, f := range fields {
		switch f.Key {
		case "type":
			if f.Type == zapcore.StringType {
				logType = f.String
			}
		case "to":
			if f.Type == zapcore.StringType {
				to = f.String
			}
		case "health":
			if f.Type == zapcore.StringType {
				health = f.String
			}
		case "status":
			if f.Type == zapcore.Int64Type || f.Type == zapcore.Int32Type {
				status = f.Integer
			}
		}
	}

	if status > 0 {
		return statusEmoji(int(status))
	}
	if logType == "breaker" {
		if e, ok := breakerEmoji[to]; ok {
			return e
		}
	}
	if e, ok := healthEmoji[health]; ok {
		return e
	}
	if e, ok := typeEmoji[logType]; ok {
		return e
	}
	return levelEmoji[level]
}

// Clone 克隆编码器（Zap 内部使用）
func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: enc.Encoder.Clone()}
}
