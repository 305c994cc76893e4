package logger

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string `env:"LOG_LEVEL"`
	Filename   string `env:"LOG_FILENAME"`
	MaxSize    int    `env:"LOG_MAX_SIZE"`    // 单个文件最大尺寸（MB）
	MaxAge     int    `env:"LOG_MAX_AGE"`     // 保留天数
	MaxBackups int    `env:"LOG_MAX_BACKUPS"` // 保留的旧文件数量
	Daily      bool   `env:"LOG_DAILY"`
}

// Lg 全局 logger，Init 之前为 no-op，避免测试或工具代码未初始化时崩溃
var Lg = zap.NewNop()

// Init 初始化全局 logger
// mode 为 production 时输出 JSON，其余模式输出易读的 console 格式
func Init(cfg *LogConfig, mode string) error {
	if cfg == nil {
		cfg = &LogConfig{Level: "info"}
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if mode == "production" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}

	if cfg.Filename != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0755); err != nil {
			return err
		}
		writer := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackups,
			LocalTime:  true,
		}
		// 文件日志统一使用 JSON，方便采集
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(writer), level))
	}

	Lg = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	zap.ReplaceGlobals(Lg)
	return nil
}

// Debug 记录 debug 日志
func Debug(msg string, fields ...zap.Field) {
	Lg.Debug(msg, fields...)
}

// Info 记录 info 日志
func Info(msg string, fields ...zap.Field) {
	Lg.Info(msg, fields...)
}

// Warn 记录 warn 日志
func Warn(msg string, fields ...zap.Field) {
	Lg.Warn(msg, fields...)
}

// Error 记录 error 日志
func Error(msg string, fields ...zap.Field) {
	Lg.Error(msg, fields...)
}

// Sync 刷新缓冲区，进程退出前调用
func Sync() error {
	return Lg.Sync()
}
