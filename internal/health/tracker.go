// Package health tracks the observed operating mode of the AI provider.
//
// The provider's degraded mode is indistinguishable from success at the
// transport level (it answers 200 with canned content), so callers
// classify each call's outcome by fingerprinting the content and feed the
// classification here. The tracker only derives status from outcomes; it
// is never set directly.
package health

import (
	"sync"

	"github.com/liangwu/tcmprep/internal/model"
)

// Outcome classifies a single generator/evaluator/chat call.
type Outcome int

const (
	// OutcomeSuccess means the provider answered with genuine content.
	OutcomeSuccess Outcome = iota
	// OutcomeFallback means the provider answered, but the content
	// matched a known fallback signature.
	OutcomeFallback
	// OutcomeFailure means the provider was unreachable, errored, or
	// returned output that failed structural parsing.
	OutcomeFailure
)

// Tracker is a three-state machine over model.ServiceStatus. Zero value
// is ready to use and reports available.
type Tracker struct {
	mu     sync.Mutex
	status model.ServiceStatus
}

// Status returns the current service status.
func (t *Tracker) Status() model.ServiceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == "" {
		return model.StatusAvailable
	}
	return t.status
}

// Observe applies one call outcome. A hard failure always yields
// unavailable, fallback content yields limited, and only a genuine
// success recovers the status to available.
func (t *Tracker) Observe(o Outcome) model.ServiceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o {
	case OutcomeFailure:
		t.status = model.StatusUnavailable
	case OutcomeFallback:
		t.status = model.StatusLimited
	default:
		t.status = model.StatusAvailable
	}
	return t.status
}
