package knaster

import (
	"os"

	"github.com/charmbracelet/log"
)

// NewLogger builds the control-thread structured logger for a graph
// named name. The audio thread never touches this logger: it only ever
// writes into the lock-free anomaly ring, which the control thread
// drains and forwards through conventional logging like this.
func NewLogger(name string) *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          name,
	})
}
