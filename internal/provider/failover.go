package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dnswatch/internal/domain"
)

// Failover tries each provider in order, moving to the next one when the
// current one fails.
type Failover struct {
	providers []domain.Provider
	logger    *zap.Logger
}

// NewFailover creates a failover chain. At least one provider is required.
func NewFailover(providers []domain.Provider, logger *zap.Logger) *Failover {
	return &Failover{
		providers: providers,
		logger:    logger.Named("failover"),
	}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (f *Failover) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range f.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

func (f *Failover) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range f.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

// Chat returns the first successful response. A cancelled context stops the
// chain instead of moving to the next provider.
func (f *Failover) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	for i, p := range f.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("used fallback provider",
					zap.String("provider", p.Name()),
					zap.Int("position", i+1),
				)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("provider failed, trying next",
			zap.String("provider", p.Name()),
			zap.Int("position", i+1),
			zap.Error(err),
		)
	}
	if lastErr == nil {
		return nil, fmt.Errorf("%w: failover chain is empty", ErrUnavailable)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

var _ domain.Provider = (*Failover)(nil)
