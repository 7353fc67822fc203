package logging

import (
	"time"

	"gorm.io/gorm/logger"
)

type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	Logger.Debug().Str("component", "gorm").Msgf(format, args...)
}

// GormLogger routes gorm's SQL log through the global logger at debug level.
func GormLogger(slowThreshold time.Duration) logger.Interface {
	return logger.New(gormWriter{}, logger.Config{
		SlowThreshold:             slowThreshold,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
