package logger

import (
	"context"
	"fmt"

	kratoslog "github.com/go-kratos/kratos/v2/log"
)

// KratosLogger 框架层(lifecycle、server)的kratos日志转入zap
type KratosLogger struct {
	logger Logger
}

// NewKratosLogger 附带服务名与版本
func NewKratosLogger(logger Logger, serviceName, version string) kratoslog.Logger {
	return kratoslog.With(&KratosLogger{logger: logger},
		"service.name", serviceName,
		"service.version", version,
	)
}

// Log 奇数个keyvals时最后一个记为 "extra"
func (kl *KratosLogger) Log(level kratoslog.Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 {
		return nil
	}

	var msg string
	fields := make([]Field, 0, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			fields = append(fields, F("extra", keyvals[i]))
			break
		}
		key := fmt.Sprint(keyvals[i])
		if key == kratoslog.DefaultMessageKey {
			msg = fmt.Sprint(keyvals[i+1])
			continue
		}
		fields = append(fields, F(key, keyvals[i+1]))
	}

	ctx := context.Background()
	switch level {
	case kratoslog.LevelDebug:
		kl.logger.Debug(ctx, msg, fields...)
	case kratoslog.LevelWarn:
		kl.logger.Warn(ctx, msg, fields...)
	case kratoslog.LevelError:
		kl.logger.Error(ctx, msg, fields...)
	case kratoslog.LevelFatal:
		kl.logger.Fatal(ctx, msg, fields...)
	default:
		kl.logger.Info(ctx, msg, fields...)
	}
	return nil
}
