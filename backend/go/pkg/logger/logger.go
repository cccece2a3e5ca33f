package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger 是对 logrus 的封装，以提供更方便的结构化日志记录功能。
// 所有 With* 方法都返回新的 Logger，不会修改原有实例，可以安全地在多个协程间共享。
type Logger struct {
	entry *logrus.Entry
}

// Init 初始化全局的 logrus 配置。
//
// 参数:
//
//	level: 日志级别字符串 (例如: "info", "debug")。
//	out: 日志输出位置，为 nil 时输出到标准输出。
//
// 返回值:
//
//	error: 如果日志级别无法解析，则返回错误。
func Init(level string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("无效的日志级别 %q: %w", level, err)
	}

	// 设置日志格式为 JSON，便于后续的日志采集和分析。
	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	if out == nil {
		out = os.Stdout
	}
	logrus.SetOutput(out)
	logrus.SetLevel(lvl)
	return nil
}

// New 创建一个新的 Logger 实例，并预设服务名称字段。
func New(serviceName string) *Logger {
	return &Logger{
		entry: logrus.WithField("service_name", serviceName),
	}
}

// Discard 返回一个丢弃所有输出的 Logger，用于测试。
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(l)}
}

// WithField 返回附加了单个字段的新 Logger。
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields 返回附加了多个字段的新 Logger。
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError 返回附加了错误信息的新 Logger。
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// Info 记录一条信息级别的日志。
func (l *Logger) Info(message string) {
	l.entry.Info(message)
}

// Infof 按格式记录一条信息级别的日志。
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn 记录一条警告级别的日志。
func (l *Logger) Warn(message string) {
	l.entry.Warn(message)
}

// Error 记录一条错误级别的日志。
func (l *Logger) Error(message string) {
	l.entry.Error(message)
}

// Debug 记录一条调试级别的日志。
func (l *Logger) Debug(message string) {
	l.entry.Debug(message)
}

// Fatal 记录一条致命错误级别的日志，并终止程序。
func (l *Logger) Fatal(message string) {
	l.entry.Fatal(message)
}
