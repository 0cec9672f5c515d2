package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"dnswatch/internal/domain"
)

// ErrUnavailable is returned when the decision service could not produce a
// response, either because retries ran out or because the failure was fatal.
var ErrUnavailable = errors.New("decision service unavailable")

// Class separates failures worth retrying from those that are not.
type Class int

const (
	ClassTransient Class = iota
	ClassFatal
)

func (c Class) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "fatal"
}

// Classify decides whether err is worth another attempt.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusClass(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 0 {
			return ClassTransient
		}
		return statusClass(reqErr.HTTPStatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassFatal
}

func statusClass(code int) Class {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusConflict,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return ClassTransient
	default:
		return ClassFatal
	}
}

// RetryPolicy bounds the exponential backoff between attempts.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
}

// RetryEvent describes a failed attempt that will be retried after Wait.
type RetryEvent struct {
	Attempt int
	Wait    time.Duration
	Class   Class
	Err     error
}

// Retrier runs an operation under a RetryPolicy.
type Retrier struct {
	policy  RetryPolicy
	timer   backoff.Timer
	onRetry []func(RetryEvent)
	onFail  []func(Class)
	logger  *zap.Logger
}

func NewRetrier(p RetryPolicy, logger *zap.Logger) *Retrier {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.Factor <= 1 {
		p.Factor = 2
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay * time.Duration(1<<min(p.MaxAttempts, 16))
	}
	return &Retrier{policy: p, logger: logger.Named("retry")}
}

// WithTimer replaces the wall-clock timer used between attempts.
func (r *Retrier) WithTimer(t backoff.Timer) *Retrier {
	r.timer = t
	return r
}

// OnRetry registers fn to observe every scheduled retry.
func (r *Retrier) OnRetry(fn func(RetryEvent)) {
	r.onRetry = append(r.onRetry, fn)
}

// OnGiveUp registers fn to observe every call that ends unavailable.
func (r *Retrier) OnGiveUp(fn func(Class)) {
	r.onFail = append(r.onFail, fn)
}

func (r *Retrier) Policy() RetryPolicy { return r.policy }

func (r *Retrier) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialDelay
	exp.Multiplier = r.policy.Factor
	exp.MaxInterval = r.policy.MaxDelay
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.policy.MaxAttempts-1)), ctx)
}

// Do calls op until it succeeds, fails fatally or exhausts the attempt
// budget. Every failure is returned wrapped in ErrUnavailable.
func Do[T any](ctx context.Context, r *Retrier, op func(context.Context) (T, error)) (T, error) {
	var (
		result   T
		attempts int
	)
	operation := func() error {
		attempts++
		v, err := op(ctx)
		if err == nil {
			result = v
			return nil
		}
		if Classify(err) == ClassFatal {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		ev := RetryEvent{Attempt: attempts, Wait: wait, Class: ClassTransient, Err: err}
		r.logger.Warn("decision call failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		for _, fn := range r.onRetry {
			fn(ev)
		}
	}

	if err := backoff.RetryNotifyWithTimer(operation, r.newBackOff(ctx), notify, r.timer); err != nil {
		class := Classify(err)
		r.logger.Error("decision service unavailable",
			zap.Int("attempts", attempts),
			zap.Stringer("class", class),
			zap.Error(err),
		)
		for _, fn := range r.onFail {
			fn(class)
		}
		var zero T
		return zero, fmt.Errorf("%w after %d attempt(s): %w", ErrUnavailable, attempts, err)
	}
	return result, nil
}

// Retrying wraps a provider so each Chat call goes through a Retrier.
type Retrying struct {
	inner   domain.Provider
	retrier *Retrier
}

func WithRetry(p domain.Provider, r *Retrier) *Retrying {
	return &Retrying{inner: p, retrier: r}
}

func (p *Retrying) Name() string                      { return p.inner.Name() }
func (p *Retrying) Models() []string                  { return p.inner.Models() }
func (p *Retrying) Healthy(ctx context.Context) error { return p.inner.Healthy(ctx) }
func (p *Retrying) Unwrap() domain.Provider           { return p.inner }

func (p *Retrying) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return Do(ctx, p.retrier, func(ctx context.Context) (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
}

var _ domain.Provider = (*Retrying)(nil)
