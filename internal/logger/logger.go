package logger

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger *zap.Logger

func encoderConfig(levelEncoder zapcore.LevelEncoder) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    levelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// ParseLevel maps a configured level name to a zap level, falling back to info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger writing coloured text to console and, when logFile is
// set, JSON lines to a rotated file.
func New(level string, logFile string, console io.Writer) *zap.Logger {
	zapLevel := ParseLevel(level)

	var cores []zapcore.Core

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig(zapcore.CapitalColorLevelEncoder)),
		zapcore.AddSync(console),
		zapLevel,
	)
	cores = append(cores, consoleCore)

	if logFile != "" {
		// 确保日志文件目录存在
		logDir := filepath.Dir(logFile)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			// 如果无法创建目录，只输出到控制台
			l := zap.New(zapcore.NewTee(consoleCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
			l.Error("Failed to create log directory, logging to console only", zap.String("dir", logDir), zap.Error(err))
			return l
		}

		fileWriter := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}

		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig(zapcore.LowercaseLevelEncoder)),
			zapcore.AddSync(fileWriter),
			zapLevel,
		)
		cores = append(cores, fileCore)
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func InitLogger(level string, logFile string) {
	Logger = New(level, logFile, os.Stdout)
}

func GetLogger() *zap.Logger {
	if Logger == nil {
		InitLogger("info", "")
	}
	return Logger
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
