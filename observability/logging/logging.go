package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// Key names follow the JSON shape the ledger's log shippers expect.
const (
	keyTimestamp = "timestamp"
	keySeverity  = "severity"
	keyMessage   = "message"
)

// Setup installs a JSON slog handler as the process default and returns it.
// Every line is tagged with the service name, and with the environment when
// one is configured. The standard library logger is redirected through the
// same handler; net/http's server writes its errors there.
func Setup(service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: renameCoreAttrs,
	}).WithAttrs(serviceAttrs(service, env))

	logger := slog.New(handler)
	slog.SetDefault(logger)
	bridgeStdLog(handler)
	return logger
}

func serviceAttrs(service, env string) []slog.Attr {
	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return attrs
}

func renameCoreAttrs(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = keyTimestamp
	case slog.LevelKey:
		return slog.String(keySeverity, strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = keyMessage
	}
	return attr
}

// bridgeStdLog routes package-level log output into the structured handler at
// info level, stripping the flags and prefix the std logger would prepend.
func bridgeStdLog(handler slog.Handler) {
	bridge := slog.NewLogLogger(handler, slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
}
