package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

// Init inicializa el logger global con el nivel indicado (debug, info, warn, error).
func Init(level string) {
	var err error
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	log, err = cfg.Build()
	if err != nil {
		panic(err)
	}
}

// Logger retorna el logger estructurado. Si Init no se llamó devuelve un Nop.
func Logger() *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// Component devuelve un hijo del logger global etiquetado con el componente.
func Component(name string) *zap.Logger {
	return Logger().With(zap.String("component", name))
}
