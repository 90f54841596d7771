package diag

import (
	"time"
)

// Stage identifies the pipeline stage a diagnostic originated from.
type Stage string

const (
	StageConnect    Stage = "connect"
	StageDescriptor Stage = "descriptor"
	StageMarket     Stage = "market"
	StageRange      Stage = "range"
	StageScan       Stage = "scan"
	StageResolve    Stage = "resolve"
	StageAggregate  Stage = "aggregate"

	// StageAny subscribes a handler to every stage.
	StageAny Stage = "*"
)

// Severity classifies how serious a diagnostic is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single structured diagnostic entry. Consumers render these
// however they like; the pipeline never parses log strings back.
type Event struct {
	ID       string            `json:"id"`
	Stage    Stage             `json:"stage"`
	Severity Severity          `json:"severity"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	Time     time.Time         `json:"time"`
}

// Handler processes a published diagnostic event.
type Handler func(Event)

// Subscription allows a handler to be removed from the bus.
type Subscription interface {
	Unsubscribe()
}
