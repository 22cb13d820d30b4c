package sink

import (
	"log/slog"
	"strconv"

	"github.com/mklimuk/oxygen"
)

var _ oxygen.Sink = &Log{}

// Log writes every reading as a structured log record.
type Log struct {
	logger    *slog.Logger
	component string
}

func NewLog(logger *slog.Logger, component string) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, component: component}
}

func (l *Log) Publish(value float32) {
	l.logger.Info("oxygen concentration", "component", l.component, "percent", strconv.FormatFloat(round(value), 'f', accuracyDecimals, 64))
}

func (l *Log) ObserveStatus(component string, status oxygen.Status) {
	if status == oxygen.StatusHealthy || status == oxygen.StatusUnknown {
		return
	}
	l.logger.Warn("component unhealthy", "component", component, "status", status)
}
