package agro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/couchcryptid/field-env-sync/internal/observability"
)

// Prober checks whether a candidate base URL is live and accepts the credential.
type Prober interface {
	Probe(ctx context.Context, baseURL string) error
}

// Resolver picks the first working base URL from an ordered candidate list
// and remembers the outcome for the life of the process.
type Resolver struct {
	candidates []string
	prober     Prober
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics

	// probeMu serializes probing so concurrent callers wait for one result.
	// mu guards only the cached outcome and is never held across network I/O.
	probeMu  sync.Mutex
	mu       sync.Mutex
	done     bool
	endpoint domain.ResolvedEndpoint
	err      error
}

// NewResolver creates a resolver over candidates, probed in order with a per-probe timeout.
func NewResolver(candidates []string, prober Prober, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		candidates: append([]string(nil), candidates...),
		prober:     prober,
		timeout:    timeout,
		logger:     logger,
		metrics:    metrics,
	}
}

// Resolve returns the resolved base URL, probing candidates on the first call only.
// A failed resolution is remembered too; use Refresh to probe again.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if done, base, err := r.cached(); done {
		return base, err
	}

	r.probeMu.Lock()
	defer r.probeMu.Unlock()

	// Another caller may have finished probing while this one waited.
	if done, base, err := r.cached(); done {
		return base, err
	}
	return r.probeAndStore(ctx)
}

// Refresh discards the cached outcome and probes the candidates again. The
// previous outcome stays visible to Endpoint and CheckReadiness until the new
// one is known.
func (r *Resolver) Refresh(ctx context.Context) (string, error) {
	r.probeMu.Lock()
	defer r.probeMu.Unlock()
	return r.probeAndStore(ctx)
}

// Endpoint returns the cached endpoint without probing.
func (r *Resolver) Endpoint() (domain.ResolvedEndpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoint, r.done && r.err == nil
}

// CheckReadiness reports an error until an endpoint has been resolved.
func (r *Resolver) CheckReadiness(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case !r.done:
		return errors.New("upstream endpoint not resolved yet")
	case r.err != nil:
		return r.err
	default:
		return nil
	}
}

// cached reports whether an outcome is cached and, if so, what it was.
func (r *Resolver) cached() (done bool, base string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		return false, "", nil
	}
	if r.err != nil {
		return true, "", r.err
	}
	return true, r.endpoint.BaseURL, nil
}

// probeAndStore runs one probe pass and caches its outcome. If the caller's
// context ends mid-probe nothing is cached and the context error is returned.
// Callers hold probeMu.
func (r *Resolver) probeAndStore(ctx context.Context) (string, error) {
	ep, outcome, err := r.probe(ctx)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.done = true
	r.endpoint = ep
	r.err = outcome
	r.mu.Unlock()

	if outcome != nil {
		return "", outcome
	}
	return ep.BaseURL, nil
}

// probe walks the candidates in order. outcome is the EndpointUnavailableError
// when every candidate failed; err is set only when ctx ended.
func (r *Resolver) probe(ctx context.Context) (ep domain.ResolvedEndpoint, outcome, err error) {
	failures := make([]domain.ProbeFailure, 0, len(r.candidates))
	for _, candidate := range r.candidates {
		perr := r.probeOne(ctx, candidate)
		if perr == nil {
			r.metrics.ProbeAttempts.WithLabelValues("success").Inc()
			r.metrics.EndpointResolved.Set(1)
			r.logger.Info("upstream endpoint resolved", "base_url", candidate, "rejected", len(failures))
			return domain.ResolvedEndpoint{BaseURL: candidate, ResolvedAt: domain.Now().UTC()}, nil, nil
		}

		r.metrics.ProbeAttempts.WithLabelValues("failure").Inc()
		failure := domain.ProbeFailure{BaseURL: candidate, Reason: domain.FailureReason(perr)}
		failures = append(failures, failure)
		r.logger.Warn("upstream candidate rejected", "candidate", candidate, "reason", failure.Reason)

		if ctx.Err() != nil {
			return domain.ResolvedEndpoint{}, nil, fmt.Errorf("resolve upstream endpoint: %w", ctx.Err())
		}
	}

	r.metrics.EndpointResolved.Set(0)
	unavailable := &domain.EndpointUnavailableError{Failures: failures}
	r.logger.Error("no upstream endpoint available", "failures", unavailable.Reasons())
	return domain.ResolvedEndpoint{}, unavailable, nil
}

func (r *Resolver) probeOne(ctx context.Context, candidate string) error {
	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.prober.Probe(probeCtx, candidate)
}
