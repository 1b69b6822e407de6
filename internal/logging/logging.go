package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger writing to w. Levels are reported under
// "severity" and every line carries the service and, when set, env.
func New(w io.Writer, service, env string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.LevelKey {
				return slog.String("severity", attr.Value.String())
			}
			return attr
		},
	})
	logger := slog.New(h).With("service", service)
	if env = strings.TrimSpace(env); env != "" {
		logger = logger.With("env", env)
	}
	return logger
}

// Setup installs New(os.Stdout, ...) as the default logger. The standard
// library logger is routed through it so log.Fatalf lines stay structured.
func Setup(service, env string) *slog.Logger {
	logger := New(os.Stdout, service, env)
	slog.SetDefault(logger)
	log.SetFlags(0)
	return logger
}
