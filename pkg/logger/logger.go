// Package logger предоставляет структурированное логирование на базе zerolog.
// JSON формат для production, читаемый вывод для локальной разработки.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log - глобальный экземпляр логгера.
var log zerolog.Logger

// Config содержит настройки логгера.
type Config struct {
	// Level - минимальный уровень: "trace", "debug", "info", "warn", "error".
	Level string

	// Pretty включает zerolog.ConsoleWriter вместо JSON.
	Pretty bool

	// Service добавляется полем "service" в каждую запись (например "payment-api").
	Service string

	// Output - куда писать логи. По умолчанию os.Stdout.
	Output io.Writer
}

// init настраивает логгер из LOG_LEVEL / LOG_PRETTY, чтобы пакет был пригоден
// к использованию ещё до загрузки конфигурации.
func init() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	Init(Config{
		Level:  level,
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init (пере)инициализирует глобальный логгер.
func Init(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level := parseLevel(cfg.Level)

	lctx := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller()
	if cfg.Service != "" {
		lctx = lctx.Str("service", cfg.Service)
	}
	log = lctx.Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
}

// parseLevel преобразует строку в zerolog.Level. Неизвестное значение - info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug создает событие уровня debug.
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info создает событие уровня info.
// Пример: logger.Info().Int64("order_id", 42).Msg("Платёж подтверждён")
func Info() *zerolog.Event {
	return log.Info()
}

// Warn создает событие уровня warn.
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error создает событие уровня error.
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal создает событие уровня fatal.
// ВНИМАНИЕ: после Msg() процесс завершится с кодом 1.
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// With создает дочерний логгер с дополнительными полями.
//
//	jobLog := logger.With().Str("job", "installments").Logger()
func With() zerolog.Context {
	return log.With()
}

// Logger возвращает копию глобального логгера.
func Logger() zerolog.Logger {
	return log
}

// SetGlobalLogger подменяет глобальный логгер (используется в тестах).
func SetGlobalLogger(l zerolog.Logger) {
	log = l
}
