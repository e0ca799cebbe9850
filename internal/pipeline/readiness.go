package pipeline

import (
	"context"
	"fmt"
)

// Readiness is the gate result returned to the polling edge device.
type Readiness struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// Ready reports whether the service will accept a frame upload right now.
// The device polls this before capturing, so refusals here are cheap; an
// upload refused by Submit has already cost the bandwidth.
func (p *Pipeline) Ready(ctx context.Context) (Readiness, error) {
	active, err := p.store.CountActiveCases(ctx)
	if err != nil {
		return Readiness{}, fmt.Errorf("count active cases: %w", err)
	}
	if active == 0 && !p.cfg.ReadyWhenIdle {
		return Readiness{Reason: "no open cases"}, nil
	}
	if active > p.cfg.MaxActiveCases {
		return Readiness{Reason: "too many open cases"}, nil
	}

	inflight, err := p.store.CountInFlight(ctx)
	if err != nil {
		return Readiness{}, fmt.Errorf("count in-flight frames: %w", err)
	}
	if inflight >= p.cfg.MaxInFlightFrames {
		return Readiness{Reason: "frame backlog full"}, nil
	}

	return Readiness{Ready: true}, nil
}
