package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceIdKey 是 Context 中会话 ID 的 Key
const TraceIdKey = "trace_id"

// 全局 Logger 实例；Init 之前是 Nop，保证测试和库代码可以直接调用
var Log = zap.NewNop()

// Options 控制日志输出目标
type Options struct {
	Service string
	Level   string // debug, info, warn, error
	// File 为空时使用 logs/{Service}.log
	File string
	// Console 为 true 时同时写 stdout。终端界面程序必须为 false，否则日志会把表格冲乱
	Console bool
}

// Init 初始化日志组件（控制台 + 默认文件）
func Init(serviceName string, level string) {
	InitWithOptions(Options{Service: serviceName, Level: level, Console: true})
}

// InitWithOptions 初始化日志组件
func InitWithOptions(opt Options) {
	// 1. 配置日志级别
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(opt.Level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	// 2. 编码器：JSON
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	// 3. 写入目标
	var writeSyncers []zapcore.WriteSyncer
	if opt.Console {
		writeSyncers = append(writeSyncers, zapcore.AddSync(os.Stdout))
	}

	logFile := opt.File
	if logFile == "" {
		logFile = filepath.Join("logs", opt.Service+".log")
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			writeSyncers = append(writeSyncers, zapcore.AddSync(file))
		}
	}

	if len(writeSyncers) == 0 {
		// 文件打不开又不允许写控制台：宁可不记，也不能污染终端
		Log = zap.NewNop()
		return
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		zapLevel,
	)

	// AddCallerSkip(1)：跳过本包的封装函数
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", opt.Service))
}

// WithTrace 返回携带会话 ID 的 ctx
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIdKey, traceID)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Info(msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Error(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Warn(msg, fields...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Debug(msg, fields...)
}

// Fatal 会调用 os.Exit
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Fatal(msg, fields...)
}

func extractTrace(ctx context.Context, fields *[]zap.Field) {
	if ctx == nil {
		return
	}
	if traceID, ok := ctx.Value(TraceIdKey).(string); ok && traceID != "" {
		*fields = append(*fields, zap.String("trace_id", traceID))
	}
}

// Sync 刷新缓冲区 (main 中 defer 调用)
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
