package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"hookq/internal/breaker"
	"hookq/internal/models"

	"go.uber.org/zap"
)

// ErrDependencyUnavailable is reported when the circuit breaker refuses a
// call. It is retryable: the next attempt after the reset timeout probes
// the dependency again.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// Usage thresholds against provider-reported quota percentages.
const (
	usageWarnPct     = 75.0
	usageThrottlePct = 90.0
)

// Response is the provider response the wrapper inspects.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// CallFunc performs one outbound provider call.
type CallFunc func(ctx context.Context) (*Response, error)

// Wrapper guards outbound provider calls: circuit breaker pre-check,
// quota-header throttling after success, and failure classification of
// error responses into retryable and permanent.
type Wrapper struct {
	breaker *breaker.Registry
	logger  *zap.SugaredLogger

	mu        sync.Mutex
	cooldowns map[string]time.Time

	cooldown time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewWrapper creates a wrapper around the given breaker registry.
// cooldown is the locally-enforced delay imposed after the hard usage
// threshold is crossed.
func NewWrapper(reg *breaker.Registry, cooldown time.Duration, logger *zap.SugaredLogger) *Wrapper {
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &Wrapper{
		breaker:   reg,
		logger:    logger,
		cooldowns: make(map[string]time.Time),
		cooldown:  cooldown,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Call executes fn against the named dependency. The returned error is
// nil on success, wraps ErrDependencyUnavailable when the circuit is
// open, carries a models.RetryableError on 429/5xx (with a Retry-After
// hint when the provider sent one), and is permanent on other 4xx.
func (w *Wrapper) Call(ctx context.Context, dependency string, fn CallFunc) (*Response, error) {
	if err := w.waitCooldown(ctx, dependency); err != nil {
		return nil, err
	}

	if err := w.breaker.Allow(ctx, dependency); err != nil {
		return nil, fmt.Errorf("%s: %w", dependency, ErrDependencyUnavailable)
	}

	resp, err := w.invoke(ctx, dependency, fn)
	if err != nil {
		w.breaker.ReportFailure(ctx, dependency)
		return nil, &models.RetryableError{Err: fmt.Errorf("call %s: %w", dependency, err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.breaker.ReportSuccess(ctx, dependency)
		w.inspectUsage(dependency, resp.Headers)
		return resp, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		w.breaker.ReportFailure(ctx, dependency)
		retryErr := &models.RetryableError{
			Err: fmt.Errorf("%s returned status %d", dependency, resp.StatusCode),
		}
		if hint, ok := parseRetryAfter(resp.Headers, w.now()); ok {
			retryErr.RetryAfter = hint
		}
		return resp, retryErr

	default:
		// Remaining 4xx are caller errors; the dependency is healthy
		// and retries cannot fix the request.
		w.breaker.ReportSuccess(ctx, dependency)
		return resp, models.Permanent(fmt.Errorf("%s returned status %d", dependency, resp.StatusCode))
	}
}

// invoke runs fn and reports a panic as a failure before re-raising it.
// Allow may have granted this call the single half-open probe slot; the
// failure report releases it so the dependency cannot wedge half-open.
func (w *Wrapper) invoke(ctx context.Context, dependency string, fn CallFunc) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.breaker.ReportFailure(ctx, dependency)
			panic(r)
		}
	}()
	return fn(ctx)
}

func (w *Wrapper) waitCooldown(ctx context.Context, dependency string) error {
	w.mu.Lock()
	until, ok := w.cooldowns[dependency]
	w.mu.Unlock()
	if !ok {
		return nil
	}
	if wait := until.Sub(w.now()); wait > 0 {
		w.logger.Infow("usage cooldown in effect, delaying call",
			"dependency", dependency, "wait", wait)
		return w.sleep(ctx, wait)
	}
	return nil
}

// inspectUsage reads provider quota signals (Meta X-App-Usage style JSON
// percentages) and throttles preemptively before the provider starts
// rejecting calls.
func (w *Wrapper) inspectUsage(dependency string, headers http.Header) {
	pct, ok := parseAppUsage(headers)
	if !ok {
		return
	}

	if pct >= usageThrottlePct {
		until := w.now().Add(w.cooldown)
		w.mu.Lock()
		w.cooldowns[dependency] = until
		w.mu.Unlock()
		w.logger.Warnw("provider quota nearly exhausted, imposing local cooldown",
			"dependency", dependency, "usage_pct", pct, "cooldown", w.cooldown)
		return
	}
	if pct >= usageWarnPct {
		w.logger.Warnw("provider quota above warning threshold",
			"dependency", dependency, "usage_pct", pct)
	}
}

// parseAppUsage extracts the highest percentage from an X-App-Usage
// header: {"call_count":N,"total_time":N,"total_cputime":N}.
func parseAppUsage(headers http.Header) (float64, bool) {
	raw := headers.Get("X-App-Usage")
	if raw == "" {
		raw = headers.Get("X-Business-Use-Case-Usage")
	}
	if raw == "" {
		return 0, false
	}

	var usage map[string]float64
	if err := json.Unmarshal([]byte(raw), &usage); err != nil {
		return 0, false
	}
	var max float64
	found := false
	for _, v := range usage {
		if v > max {
			max = v
		}
		found = true
	}
	return max, found
}

// parseRetryAfter reads a Retry-After header, either delta-seconds or an
// HTTP date.
func parseRetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}
