package logger

import (
	"polyfinance/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log 全局日志实例，未初始化时为 Nop，测试中可直接使用
var Log = zap.NewNop()

// Init 根据配置初始化 zap
func Init(cfg *config.LogConfig) error {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	l, err := zc.Build()
	if err != nil {
		return err
	}
	Log = l
	zap.ReplaceGlobals(l)
	return nil
}

func Sugar() *zap.SugaredLogger {
	return Log.Sugar()
}

func Sync() {
	_ = Log.Sync()
}
