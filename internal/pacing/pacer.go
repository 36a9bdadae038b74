package pacing

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"go.uber.org/ratelimit"
)

// Pacer spaces probes at least interval apart.
type Pacer struct {
	interval time.Duration
	policy   Policy
	clock    clock.Clock
	limiter  ratelimit.Limiter
}

// New returns a pacer for interval under policy. An interval below the
// policy floor is raised to the floor. A nil clock means the wall clock.
func New(interval time.Duration, policy Policy, clk clock.Clock) *Pacer {
	if clk == nil {
		clk = clock.New()
	}

	if interval < policy.Floor {
		log.Warn().
			Dur("requested", interval).
			Dur("floor", policy.Floor).
			Str("policy", policy.Name).
			Msg("Interval below the minimum allowed for this user, clamping")
		interval = policy.Floor
	}

	p := &Pacer{
		interval: interval,
		policy:   policy,
		clock:    clk,
	}
	if policy.Floor > 0 {
		// One token per floor period and no burst credit, so a send can
		// never follow the previous one sooner than the floor.
		p.limiter = ratelimit.New(1,
			ratelimit.Per(policy.Floor),
			ratelimit.WithoutSlack,
			ratelimit.WithClock(clk),
		)
	}

	log.Debug().
		Dur("interval", interval).
		Str("policy", policy.Name).
		Msg("Pacer configured")
	return p
}

// Interval returns the effective interval after clamping.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Policy returns the policy the pacer enforces.
func (p *Pacer) Policy() Policy {
	return p.policy
}

// Remaining returns how long to wait before the next probe given that
// elapsed has passed since the previous one was sent.
func (p *Pacer) Remaining(elapsed time.Duration) time.Duration {
	if d := p.interval - elapsed; d > 0 {
		return d
	}
	return 0
}

// WaitRemaining blocks for Remaining(elapsed). It returns ctx's error if
// ctx is cancelled first.
func (p *Pacer) WaitRemaining(ctx context.Context, elapsed time.Duration) error {
	d := p.Remaining(elapsed)
	if d == 0 {
		return ctx.Err()
	}

	t := p.clock.Timer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Guard blocks until the policy allows another send. It returns at once
// under a policy without a floor.
func (p *Pacer) Guard() {
	if p.limiter != nil {
		p.limiter.Take()
	}
}
