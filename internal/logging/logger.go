package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации ("debug", "info", ...).
func ParseLevel(level string) LogLevel {
	switch level {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// zapLevel: TRACE в zap отсутствует, пишем его как DEBUG.
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE, DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// FileConfig описывает ротацию файла логов.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileConfig возвращает настройки ротации по умолчанию для компонента.
func DefaultFileConfig(component string) FileConfig {
	return FileConfig{
		Path:       filepath.Join("logs", component+".log"),
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

// Options задают вывод логгера компонента.
type Options struct {
	ConsoleLevel  LogLevel
	FileLevel     LogLevel
	ConsoleOutput bool
	File          FileConfig // пустой Path: без файла
}

// Logger представляет логгер компонента
type Logger struct {
	component string
	sugar     *zap.SugaredLogger
	base      *zap.Logger
	console   zap.AtomicLevel
	file      zap.AtomicLevel
	rotator   *lumberjack.Logger
}

// NewLogger создаёт логгер компонента с консолью (INFO) и ротируемым файлом (DEBUG).
func NewLogger(component string) (*Logger, error) {
	return NewLoggerWithOptions(component, Options{
		ConsoleLevel:  INFO,
		FileLevel:     DEBUG,
		ConsoleOutput: true,
		File:          DefaultFileConfig(component),
	})
}

// NewLoggerWithOptions создаёт логгер с явными настройками.
func NewLoggerWithOptions(component string, opts Options) (*Logger, error) {
	l := &Logger{
		component: component,
		console:   zap.NewAtomicLevelAt(opts.ConsoleLevel.zapLevel()),
		file:      zap.NewAtomicLevelAt(opts.FileLevel.zapLevel()),
	}

	var cores []zapcore.Core

	if opts.ConsoleOutput {
		enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:          "time",
			LevelKey:         "level",
			NameKey:          "component",
			MessageKey:       "msg",
			EncodeTime:       zapcore.TimeEncoderOfLayout("15:04:05"),
			EncodeLevel:      zapcore.CapitalColorLevelEncoder,
			EncodeName:       zapcore.FullNameEncoder,
			ConsoleSeparator: " ",
		})
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), l.console))
	}

	if opts.File.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File.Path), 0755); err != nil {
			return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
		}
		l.rotator = &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   opts.File.Compress,
			LocalTime:  true,
		}
		enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:          "time",
			LevelKey:         "level",
			NameKey:          "component",
			MessageKey:       "msg",
			CallerKey:        "caller",
			EncodeTime:       zapcore.ISO8601TimeEncoder,
			EncodeLevel:      zapcore.CapitalLevelEncoder,
			EncodeName:       zapcore.FullNameEncoder,
			EncodeCaller:     zapcore.ShortCallerEncoder,
			ConsoleSeparator: " ",
		})
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(l.rotator), l.file))
	}

	l.base = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(2)).Named(component)
	l.sugar = l.base.Sugar()
	return l, nil
}

// SetLevels меняет минимальные уровни на лету.
func (l *Logger) SetLevels(consoleLevel, fileLevel LogLevel) {
	l.console.SetLevel(consoleLevel.zapLevel())
	l.file.SetLevel(fileLevel.zapLevel())
}

// Zap возвращает нижележащий zap.Logger для структурных полей.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// Close сбрасывает буферы и закрывает файл.
func (l *Logger) Close() error {
	_ = l.base.Sync()
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	switch level {
	case TRACE, DEBUG:
		l.sugar.Debugf(format, args...)
	case INFO:
		l.sugar.Infof(format, args...)
	case WARN:
		l.sugar.Warnf(format, args...)
	default:
		l.sugar.Errorf(format, args...)
	}
}

func (l *Logger) Trace(format string, args ...interface{}) { l.log(TRACE, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// Логгер по умолчанию; до InitDefaultLogger пишет в никуда.
var defaultLogger = &Logger{
	component: "default",
	base:      zap.NewNop(),
	sugar:     zap.NewNop().Sugar(),
	console:   zap.NewAtomicLevel(),
	file:      zap.NewAtomicLevel(),
}

// InitDefaultLogger инициализирует логгер по умолчанию
func InitDefaultLogger(component string) error {
	l, err := NewLogger(component)
	if err != nil {
		return err
	}
	defaultLogger = l
	return nil
}

// InitDefaultLoggerWithOptions инициализирует логгер по умолчанию с явными настройками
func InitDefaultLoggerWithOptions(component string, opts Options) error {
	l, err := NewLoggerWithOptions(component, opts)
	if err != nil {
		return err
	}
	defaultLogger = l
	return nil
}

// CloseDefaultLogger закрывает логгер по умолчанию
func CloseDefaultLogger() {
	_ = defaultLogger.Close()
}

// Default возвращает текущий логгер по умолчанию.
func Default() *Logger {
	return defaultLogger
}

func Trace(format string, args ...interface{}) { defaultLogger.log(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { defaultLogger.log(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { defaultLogger.log(INFO, format, args...) }
func Warn(format string, args ...interface{})  { defaultLogger.log(WARN, format, args...) }
func Error(format string, args ...interface{}) { defaultLogger.log(ERROR, format, args...) }
