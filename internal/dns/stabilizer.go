package dns

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dnswatch/internal/domain"
)

// attemptsPerMatch bounds the total number of resolutions at
// requiredMatches*attemptsPerMatch.
const attemptsPerMatch = 5

// AddressResolver is the subset of Resolver the Stabilizer needs.
type AddressResolver interface {
	Resolve(ctx context.Context, host string) []string
}

// Sleeper pauses between attempts. It returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

// Stabilizer repeats resolution until the primary address is the same for
// a required number of consecutive non-empty answers.
type Stabilizer struct {
	resolver AddressResolver
	sleep    Sleeper
	logger   *zap.Logger
}

func NewStabilizer(resolver AddressResolver, logger *zap.Logger) *Stabilizer {
	return &Stabilizer{
		resolver: resolver,
		sleep:    sleepContext,
		logger:   logger.Named("stabilizer"),
	}
}

// WithSleeper replaces the pause between attempts.
func (s *Stabilizer) WithSleeper(fn Sleeper) *Stabilizer {
	s.sleep = fn
	return s
}

// Stabilize never fails. Without convergence it reports the last candidate
// observed (possibly empty) with Converged false. Empty answers use up an
// attempt without resetting the candidate's streak. Cancelling ctx ends the
// run early with whatever was observed so far.
func (s *Stabilizer) Stabilize(ctx context.Context, host string, requiredMatches int, delay time.Duration) domain.StabilizationOutcome {
	if requiredMatches < 1 {
		requiredMatches = 1
	}
	budget := requiredMatches * attemptsPerMatch

	var (
		candidate string
		addrs     []string
		streak    int
		attempts  int
	)

	for attempts < budget {
		attempts++
		ips := s.resolver.Resolve(ctx, host)

		if len(ips) == 0 {
			s.logger.Warn("no address in answer", zap.String("host", host), zap.Int("attempt", attempts))
		} else {
			if ips[0] == candidate {
				streak++
			} else {
				candidate = ips[0]
				streak = 1
			}
			addrs = ips

			if streak >= requiredMatches {
				s.logger.Info("address stable",
					zap.String("host", host),
					zap.String("primary", candidate),
					zap.Strings("all_ipv4", addrs),
					zap.Int("attempts", attempts),
				)
				return outcome(candidate, addrs, attempts, true)
			}
		}

		if attempts < budget {
			if err := s.sleep(ctx, delay); err != nil {
				break
			}
		}
	}

	s.logger.Warn("address did not stabilize",
		zap.String("host", host),
		zap.String("last_candidate", candidate),
		zap.Int("attempts", attempts),
		zap.Int("required", requiredMatches),
	)
	return outcome(candidate, addrs, attempts, false)
}

func outcome(primary string, addrs []string, attempts int, converged bool) domain.StabilizationOutcome {
	all := make([]string, len(addrs))
	copy(all, addrs)
	return domain.StabilizationOutcome{
		Primary:   primary,
		AllIPv4:   all,
		Attempts:  attempts,
		Converged: converged,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
