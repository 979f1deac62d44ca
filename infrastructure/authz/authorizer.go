package authz

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/audit"
	"github.com/xbcsmith/xzepr/infrastructure/logging"
	"github.com/xbcsmith/xzepr/infrastructure/metrics"
	"github.com/xbcsmith/xzepr/infrastructure/resilience"
)

// Config for the authorizer.
type Config struct {
	EvaluatorURL     string
	EvaluatorTimeout time.Duration
	CacheTTL         time.Duration
	BreakerFailures  int
	BreakerCooloff   time.Duration
}

// Authorizer is the policy decision point. The decision path is: cache,
// then the external evaluator behind the circuit breaker, then the role
// fallback when the evaluator is unreachable. It always returns a decision;
// it degrades rather than hangs.
type Authorizer struct {
	evaluator Evaluator
	fallback  *FallbackEvaluator
	cache     *DecisionCache
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	auditor   audit.Recorder
	log       *logging.Logger
}

// New wires the authorizer from its parts.
func New(cfg Config, m *metrics.Metrics, auditor audit.Recorder, log *logging.Logger) *Authorizer {
	a := &Authorizer{
		evaluator: NewPolicyClient(cfg.EvaluatorURL, cfg.EvaluatorTimeout),
		fallback:  NewFallbackEvaluator(),
		cache:     NewDecisionCache(cfg.CacheTTL),
		metrics:   m,
		auditor:   auditor,
		log:       log,
	}
	a.breaker = resilience.New(resilience.Config{
		MaxFailures: cfg.BreakerFailures,
		Timeout:     cfg.BreakerCooloff,
		OnStateChange: func(from, to State) {
			m.SetCircuitState(gaugeValue(to))
			log.WithFields(map[string]interface{}{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("policy evaluator circuit state change")
		},
	})
	m.SetCircuitState(metrics.CircuitClosed)
	return a
}

// State is re-exported so callers configuring OnStateChange do not import
// resilience directly.
type State = resilience.State

func gaugeValue(s resilience.State) int {
	switch s {
	case resilience.StateOpen:
		return metrics.CircuitOpen
	case resilience.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// WithEvaluator swaps the policy evaluator; tests use it to inject fakes.
func (a *Authorizer) WithEvaluator(e Evaluator) *Authorizer {
	a.evaluator = e
	return a
}

// Cache exposes the decision cache so resource updates can invalidate it.
func (a *Authorizer) Cache() *DecisionCache {
	return a.cache
}

// Authorize returns the allow/deny decision for the proposed action. The
// only error it returns is Internal, and only when both the evaluator and
// the fallback path are unusable.
func (a *Authorizer) Authorize(ctx context.Context, identity Identity, action Action, resource ResourceContext) (bool, error) {
	if allow, ok := a.cache.Get(identity.UserID, action, resource); ok {
		a.metrics.RecordCacheHit()
		a.metrics.RecordPermissionCheck(allow, string(action))
		return allow, nil
	}
	a.metrics.RecordCacheMiss()

	var allow bool
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		decision, evalErr := a.evaluator.Evaluate(ctx, identity, action, resource)
		if evalErr != nil {
			return evalErr
		}
		allow = decision
		return nil
	})

	if err != nil {
		// Open circuit or transport failure: degrade to the role table.
		allow = a.evaluateFallback(ctx, identity, action, resource, err)
	} else {
		a.cache.Put(identity.UserID, action, resource, allow)
	}

	a.metrics.RecordPermissionCheck(allow, string(action))
	return allow, nil
}

func (a *Authorizer) evaluateFallback(ctx context.Context, identity Identity, action Action, resource ResourceContext, cause error) bool {
	a.metrics.RecordPolicyFallback()

	allow, _ := a.fallback.Evaluate(ctx, identity, action, resource)

	outcome := audit.OutcomeDenied
	if allow {
		outcome = audit.OutcomeSuccess
	}
	reason := "circuit open"
	if !stderrors.Is(cause, resilience.ErrCircuitOpen) {
		reason = "evaluator error"
	}
	a.auditor.Record(ctx, audit.Entry{
		UserID:   identity.UserID,
		Action:   string(action),
		Resource: resource.ResourceType + "/" + resource.ResourceID,
		Outcome:  outcome,
		Metadata: map[string]interface{}{
			"fallback": true,
			"reason":   reason,
		},
	})
	return allow
}

// InvalidateResource purges cached decisions after a resource update. The
// version embedded in the cache key already prevents stale reads; this frees
// the memory sooner.
func (a *Authorizer) InvalidateResource(resourceType, resourceID string) {
	a.cache.InvalidateResource(resourceType, resourceID)
}

// BreakerState reports the circuit state for health output.
func (a *Authorizer) BreakerState() resilience.State {
	return a.breaker.State()
}
