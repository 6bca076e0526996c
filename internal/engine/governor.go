package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/trax/internal/shared"
	"golang.org/x/time/rate"
)

// RateGovernor provides per-backend admission control for outgoing requests.
//
// Each backend gets an independent budget, so a job waiting on one backend's
// interval never delays jobs on another. Admission always eventually succeeds
// unless the caller's context ends first.
type RateGovernor struct {
	mu      sync.Mutex
	budgets map[string]*rateBudget
}

// rateBudget is the admission state for one backend. lastDispatchAt is
// monotonic: it never regresses.
type rateBudget struct {
	limiter *rate.Limiter

	mu             sync.Mutex
	lastDispatchAt time.Time
}

// NewRateGovernor creates an empty governor. Backends are registered with Configure.
func NewRateGovernor() *RateGovernor {
	return &RateGovernor{budgets: make(map[string]*rateBudget)}
}

// Configure sets the admission budget for a backend. Idempotent and safe to call
// before first use; reconfiguring an existing backend updates its budget in place.
//
// A zero or negative minInterval disables throttling for that backend. The burst
// allowance permits that many immediate admissions before throttling engages.
func (g *RateGovernor) Configure(backendID string, minInterval time.Duration, burst int) {
	if burst < 1 {
		burst = 1
	}

	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if budget, ok := g.budgets[backendID]; ok {
		budget.limiter.SetLimit(limit)
		budget.limiter.SetBurst(burst)
		return
	}

	g.budgets[backendID] = &rateBudget{limiter: rate.NewLimiter(limit, burst)}
}

// Admit blocks until dispatch to the backend is permitted, then records the
// dispatch time and returns. Jobs on other backends are never blocked.
//
// If the context ends during the wait, Admit returns [shared.ErrAdmissionCancelled]
// and the budget slot is returned rather than consumed.
func (g *RateGovernor) Admit(ctx context.Context, backendID string) error {
	budget := g.budget(backendID)

	if err := budget.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAdmissionCancelled, err)
	}

	budget.mu.Lock()
	if now := time.Now(); now.After(budget.lastDispatchAt) {
		budget.lastDispatchAt = now
	}
	budget.mu.Unlock()

	return nil
}

// LastDispatch returns the most recent admission time for a backend. Diagnostic only.
func (g *RateGovernor) LastDispatch(backendID string) time.Time {
	budget := g.budget(backendID)

	budget.mu.Lock()
	defer budget.mu.Unlock()
	return budget.lastDispatchAt
}

// budget returns the backend's budget, creating an unthrottled one for backends
// that were never configured.
func (g *RateGovernor) budget(backendID string) *rateBudget {
	g.mu.Lock()
	defer g.mu.Unlock()

	budget, ok := g.budgets[backendID]
	if !ok {
		budget = &rateBudget{limiter: rate.NewLimiter(rate.Inf, 1)}
		g.budgets[backendID] = budget
	}
	return budget
}
