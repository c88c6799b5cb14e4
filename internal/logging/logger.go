// Package logging provides component-scoped logrus loggers shared by every
// extension context.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config controls level and output format of all component loggers
type Config struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"` // "text" or "json"
	ReportCaller bool   `mapstructure:"report_caller"`
}

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	base   = logrus.New()
	baseMu sync.Mutex
)

func init() {
	applyConfig(Config{})
}

// Configure applies cfg to the shared logger. HESTO_LOG_LEVEL overrides cfg.Level.
func Configure(cfg Config) {
	baseMu.Lock()
	defer baseMu.Unlock()
	applyConfig(cfg)
}

func applyConfig(cfg Config) {
	levelStr := "info"
	if env := os.Getenv("HESTO_LOG_LEVEL"); env != "" {
		levelStr = env
	} else if cfg.Level != "" {
		levelStr = cfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
	base.SetReportCaller(cfg.ReportCaller)

	switch strings.ToLower(cfg.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	base.SetOutput(os.Stdout)
}

// SetOutput redirects every component logger, mostly for tests
func SetOutput(w io.Writer) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base.SetOutput(w)
}

// NewLogger returns the logger for a component, creating it on first use.
// Entries carry a "component" field.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}
	logger := base.WithField("component", component)
	loggers[component] = logger
	return logger
}
