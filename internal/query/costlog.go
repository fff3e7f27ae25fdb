package query

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// CostEntry is one line of the cost log.
type CostEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Question  string    `json:"question"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	Cost      float64   `json:"cost"`
}

// CostLog appends cost entries to a JSONL file. Logging failures are
// reported but never fail the query.
type CostLog struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewCostLog creates a cost log writing to path. An empty path disables
// recording.
func NewCostLog(path string, logger *slog.Logger) *CostLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &CostLog{path: path, logger: logger}
}

// Record appends one entry.
func (c *CostLog) Record(entry CostEntry) {
	if c == nil || c.path == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("cost_log_encode_failed", slog.String("error", err.Error()))
		return
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		c.logger.Warn("cost_log_open_failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		c.logger.Warn("cost_log_write_failed", slog.String("error", err.Error()))
	}
}
