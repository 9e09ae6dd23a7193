// Package record persists the outcome of every execution attempt so that
// realized performance can be reconciled against scanner expectations.
package record

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterlabs/flasharb/types"
)

// Entry ties an opportunity to what actually happened on chain.
type Entry struct {
	Opportunity types.ArbitrageOpportunity
	Outcome     types.ExecutionOutcome
	RecordedAt  time.Time
}

// Sink receives execution records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Record(e Entry)
}

// LogSink writes each record as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(e Entry) {
	fields := []zap.Field{
		zap.String("borrow_token", e.Opportunity.BorrowToken.Hex()),
		zap.Strings("venues", e.Opportunity.Venues),
		zap.Bool("success", e.Outcome.Success),
		zap.Int("attempts", e.Outcome.Attempts),
		zap.Time("recorded_at", e.RecordedAt),
	}
	if e.Opportunity.LoanAmount != nil {
		fields = append(fields, zap.String("loan_amount", e.Opportunity.LoanAmount.String()))
	}
	if e.Outcome.Success {
		fields = append(fields, zap.String("tx_hash", e.Outcome.TxHash.Hex()))
		if e.Outcome.RealizedProfit != nil {
			fields = append(fields, zap.String("realized_profit", e.Outcome.RealizedProfit.String()))
		}
		s.logger.Info("arbitrage executed", fields...)
		return
	}
	fields = append(fields,
		zap.String("failure_class", e.Outcome.Failure.String()),
		zap.String("revert_reason", e.Outcome.RevertReason),
	)
	s.logger.Warn("arbitrage failed", fields...)
}

// MemorySink buffers records in memory, mainly for tests and dry runs.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Record(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

// Entries returns a copy of everything recorded so far.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
