package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	tracecontext "trekmate/pkg/context"
)

// Logger 业务日志接口，ctx 中的请求ID、用户、群组和trace会自动带上
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	Fatal(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field 日志字段
type Field struct {
	Key   string
	Value interface{}
}

// F 便捷函数
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

type logger struct {
	zapLogger *zap.Logger
}

// NewLogger 级别无法解析时按info处理，输出JSON到stdout
func NewLogger(level string) (Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	return &logger{zapLogger: zapLogger}, nil
}

// NewNopLogger 丢弃所有输出，测试使用
func NewNopLogger() Logger {
	return &logger{zapLogger: zap.NewNop()}
}

// NewWithCore 使用自定义core，测试里配合 zaptest/observer
func NewWithCore(core zapcore.Core) Logger {
	return &logger{zapLogger: zap.New(core)}
}

func (l *logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

// Fatal 记录后退出进程
func (l *logger) Fatal(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.FatalLevel, msg, fields)
}

// With 返回附带固定字段的子日志器
func (l *logger) With(fields ...Field) Logger {
	return &logger{zapLogger: l.zapLogger.With(toZap(nil, fields)...)}
}

func (l *logger) log(ctx context.Context, level zapcore.Level, msg string, fields []Field) {
	ce := l.zapLogger.Check(level, msg)
	if ce == nil {
		return
	}
	zapFields := make([]zap.Field, 0, len(fields)+len(tracecontext.LogKeys)+1)
	for _, key := range tracecontext.LogKeys {
		if v := tracecontext.Value(ctx, key); v != "" {
			zapFields = append(zapFields, zap.String(string(key), v))
		}
	}
	if traceID := tracecontext.GetTraceID(ctx); traceID != "" {
		zapFields = append(zapFields, zap.String("trace_id", traceID))
	}
	ce.Write(toZap(zapFields, fields)...)
}

func toZap(dst []zap.Field, fields []Field) []zap.Field {
	for _, field := range fields {
		if err, ok := field.Value.(error); ok {
			dst = append(dst, zap.NamedError(field.Key, err))
			continue
		}
		dst = append(dst, zap.Any(field.Key, field.Value))
	}
	return dst
}

var (
	defaultMu     sync.Mutex
	defaultLogger Logger
)

// Init 初始化进程级默认日志
func Init(level string) error {
	l, err := NewLogger(level)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return nil
}

// GetLogger 未Init时退回zap开发配置
func GetLogger() Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		zapLogger, err := zap.NewDevelopment(zap.AddCallerSkip(2))
		if err != nil {
			zapLogger = zap.NewNop()
		}
		defaultLogger = &logger{zapLogger: zapLogger}
	}
	return defaultLogger
}
