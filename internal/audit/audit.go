// Package audit defines the commit-time event contracts of the ledger
// engine. The engine decides what to record and how critical it is; sinks
// only persist or forward. Sink failures are surfaced in logs but never
// unwind a committed mutation.
package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Criticality grades an audit event by the magnitude of the balance change.
type Criticality string

const (
	CriticalityLow      Criticality = "LOW"
	CriticalityMedium   Criticality = "MEDIUM"
	CriticalityHigh     Criticality = "HIGH"
	CriticalityCritical Criticality = "CRITICAL"
)

// Escalation thresholds, in account currency units.
var (
	mediumThreshold   = decimal.NewFromInt(10_000)
	highThreshold     = decimal.NewFromInt(100_000)
	criticalThreshold = decimal.NewFromInt(1_000_000)
)

// CriticalityFor derives the event criticality from the absolute balance
// delta.
func CriticalityFor(delta decimal.Decimal) Criticality {
	abs := delta.Abs()
	switch {
	case abs.GreaterThanOrEqual(criticalThreshold):
		return CriticalityCritical
	case abs.GreaterThanOrEqual(highThreshold):
		return CriticalityHigh
	case abs.GreaterThanOrEqual(mediumThreshold):
		return CriticalityMedium
	default:
		return CriticalityLow
	}
}

// Event is one commit-time audit record.
type Event struct {
	Timestamp   time.Time   `json:"timestamp"`
	EntityType  string      `json:"entity_type"` // ACCOUNT or TRANSACTION
	EntityID    string      `json:"entity_id"`
	Action      string      `json:"action"`
	OldValue    string      `json:"old_value,omitempty"`
	NewValue    string      `json:"new_value,omitempty"`
	Criticality Criticality `json:"criticality"`
	Details     any         `json:"details,omitempty"`
}

// Sink receives audit events after commit.
type Sink interface {
	Record(event Event)
}

// LogSink writes audit events as JSON lines to the process log.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[AUDIT] failed to marshal event for %s %s: %v", event.EntityType, event.EntityID, err)
		return
	}
	log.Printf("AUDIT: %s", string(data))
}
