package logger

import (
	"fmt"
	"io"
	"os"

	"store_audit_backend/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName 写入每条日志的 service 字段，与链路追踪的服务名一致
const ServiceName = "store-audit"

// Log 在 InitLogger 之前是空操作 logger，测试中可直接使用
var Log = zap.NewNop()

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// level 显式配置优先；否则 debug 模式输出 Debug，其余 Info
func level(cfg *config.Config) (zapcore.Level, error) {
	if cfg.Log.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return zap.InfoLevel, fmt.Errorf("invalid log.level %q: %w", cfg.Log.Level, err)
		}
		return lvl, nil
	}
	if cfg.Server.Mode == "debug" {
		return zap.DebugLevel, nil
	}
	return zap.InfoLevel, nil
}

// New 按配置构建 logger：JSON 写入滚动文件，控制台输出便于本地查看。
// 每条日志带 service 与 env 字段。console 为 nil 时不输出到控制台。
func New(cfg *config.Config, console io.Writer) (*zap.Logger, error) {
	lvl, err := level(cfg)
	if err != nil {
		return nil, err
	}

	file := cfg.Log.File
	if file == "" {
		file = "logs/app.log"
	}
	rotate := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    orDefault(cfg.Log.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.Log.MaxBackups, 5),
		MaxAge:     orDefault(cfg.Log.MaxAgeDays, 30),
		Compress:   true,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(rotate), lvl),
	}
	if console != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(console), lvl))
	}

	env := cfg.Server.Mode
	if env == "" {
		env = "debug"
	}
	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
		zap.Fields(zap.String("service", ServiceName), zap.String("env", env)),
	), nil
}

func InitLogger(cfg *config.Config) {
	l, err := New(cfg, os.Stdout)
	if err != nil {
		// 配置错误不阻止启动，回退到默认级别
		fallback := *cfg
		fallback.Log.Level = ""
		l, _ = New(&fallback, os.Stdout)
		l.Warn("Falling back to default log level", zap.Error(err))
	}
	Log = l
}

// ForAudit 带审核 ID 的子 logger
func ForAudit(auditID string) *zap.Logger {
	return Log.With(zap.String("audit_id", auditID))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
