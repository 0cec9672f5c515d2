package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dnswatch/internal/domain"
	"dnswatch/internal/provider"
)

const (
	defaultMaxTurns    = 12
	defaultMaxTokens   = 1024
	fallbackNotifyWait = 15 * time.Second
	notifyToolName     = "notify_teams"
	fallbackTitle      = "dnswatch: run incomplete"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeDone        Outcome = "done"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeTurnLimit   Outcome = "turn_limit"
)

// RunResult summarizes one orchestration run.
type RunResult struct {
	RunID      string
	Final      string
	Turns      int
	ToolCalls  int
	Outcome    Outcome
	Notified   bool
	Messages   []domain.Message
	StartedAt  time.Time
	FinishedAt time.Time
	// Err is the decision-service failure behind OutcomeUnavailable.
	Err error
}

// Dispatcher executes tool calls and describes the available tools.
type Dispatcher interface {
	Dispatch(ctx context.Context, tc domain.ToolCall) domain.ToolResult
	Definitions() []domain.ToolDefinition
	Names() []string
}

// Notifier delivers the fallback message when a run cannot finish normally.
type Notifier interface {
	Send(ctx context.Context, title, text string) domain.NotifyResult
}

// LoopConfig holds the dependencies and tuning of the orchestration loop.
type LoopConfig struct {
	Provider    domain.Provider
	Tools       Dispatcher
	Notifier    Notifier
	Params      RunParams
	PromptExtra string
	MaxTurns    int
	MaxTokens   int
	Temperature float64
	RunTimeout  time.Duration
	RateLimiter *RateLimiter
	Logger      *zap.Logger
}

// Loop drives the decision service through the tool workflow:
// AWAITING_MODEL → EXECUTING_TOOLS → AWAITING_MODEL … → DONE.
type Loop struct {
	provider    domain.Provider
	tools       Dispatcher
	notifier    Notifier
	params      RunParams
	prompt      *PromptBuilder
	maxTurns    int
	maxTokens   int
	temperature float64
	runTimeout  time.Duration
	rateLimiter *RateLimiter
	logger      *zap.Logger

	onDecision []func(time.Duration, error)
	onFinish   []func(context.Context, RunParams, RunResult)
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = NewRateLimiter(defaultRateBurst, defaultRatePerMinute)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Loop{
		provider:    cfg.Provider,
		tools:       cfg.Tools,
		notifier:    cfg.Notifier,
		params:      cfg.Params,
		prompt:      NewPromptBuilder(cfg.Params).WithExtra(cfg.PromptExtra),
		maxTurns:    cfg.MaxTurns,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		runTimeout:  cfg.RunTimeout,
		rateLimiter: cfg.RateLimiter,
		logger:      cfg.Logger.Named("agent"),
	}
}

// OnDecision registers fn to observe every decision-service call.
func (l *Loop) OnDecision(fn func(time.Duration, error)) {
	l.onDecision = append(l.onDecision, fn)
}

// OnFinish registers fn to observe every completed run.
func (l *Loop) OnFinish(fn func(context.Context, RunParams, RunResult)) {
	l.onFinish = append(l.onFinish, fn)
}

// Run executes one orchestration run. It always returns a result with a
// final answer; decision-service failures and the turn cap end the run with
// a canned answer and a fallback notification.
func (l *Loop) Run(ctx context.Context) RunResult {
	res := RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := l.logger.With(zap.String("run_id", res.RunID), zap.String("hostname", l.params.Hostname))
	log.Info("run started", zap.String("provider", l.provider.Name()), zap.Int("max_turns", l.maxTurns))

	runCtx := ctx
	if l.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.runTimeout)
		defer cancel()
	}

	messages := l.prompt.Seed()
	toolDefs := l.tools.Definitions()
	known := l.tools.Names()

	for turn := 1; turn <= l.maxTurns; turn++ {
		res.Turns = turn

		resp, err := l.decide(runCtx, messages, toolDefs)
		if err != nil {
			log.Error("decision service unavailable", zap.Int("turn", turn), zap.Error(err))
			res.Outcome = OutcomeUnavailable
			res.Err = err
			res.Final = unavailableAnswer(err)
			break
		}

		if !resp.HasToolCalls() && resp.Content != "" {
			if extracted := extractToolCallsFromContent(resp.Content, known); len(extracted) > 0 {
				log.Info("recovered tool calls from message text", zap.Int("count", len(extracted)))
				resp.ToolCalls = extracted
				resp.Content = ""
			}
		}

		if !resp.HasToolCalls() {
			res.Outcome = OutcomeDone
			res.Final = strings.TrimSpace(stripRolePrefix(resp.Content))
			if res.Final == "" {
				res.Final = "Run finished without a summary."
			}
			messages = append(messages, domain.Message{Role: domain.RoleAssistant, Content: resp.Content})
			break
		}

		messages = append(messages, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			tr := l.tools.Dispatch(runCtx, tc)
			res.ToolCalls++
			if tc.Name == notifyToolName && notificationSent(tr) {
				res.Notified = true
			}
			messages = append(messages, domain.Message{
				Role:       domain.RoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ID,
				ToolName:   tr.Name,
			})
		}
	}

	if res.Outcome == "" {
		res.Outcome = OutcomeTurnLimit
		res.Final = fmt.Sprintf("Run stopped after %d turns without a final answer. "+
			"Review the tool results in the run journal, then rerun.", l.maxTurns)
		log.Warn("turn limit reached", zap.Int("max_turns", l.maxTurns), zap.Int("tool_calls", res.ToolCalls))
	}

	if res.Outcome != OutcomeDone && !res.Notified {
		res.Notified = l.fallbackNotify(ctx, log, res)
	}

	res.Messages = messages
	res.FinishedAt = time.Now()
	log.Info("run finished",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("turns", res.Turns),
		zap.Int("tool_calls", res.ToolCalls),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)

	for _, fn := range l.onFinish {
		fn(ctx, l.params, res)
	}
	return res
}

// decide waits for the rate limiter and asks the decision service for the
// next step.
func (l *Loop) decide(ctx context.Context, messages []domain.Message, tools []domain.ToolDefinition) (*domain.ChatResponse, error) {
	if err := l.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %w", provider.ErrUnavailable, err)
	}

	start := time.Now()
	resp, err := l.provider.Chat(ctx, domain.ChatRequest{
		Messages:    messages,
		Tools:       tools,
		ToolChoice:  "auto",
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	})
	elapsed := time.Since(start)
	for _, fn := range l.onDecision {
		fn(elapsed, err)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", provider.ErrUnavailable)
	}

	l.logger.Debug("decision",
		zap.Int("tool_calls", len(resp.ToolCalls)),
		zap.String("finish_reason", resp.FinishReason),
		zap.Duration("latency", elapsed),
	)
	return resp, nil
}

// fallbackNotify reports an incomplete run. It runs detached from ctx so a
// run that hit its deadline still gets reported.
func (l *Loop) fallbackNotify(ctx context.Context, log *zap.Logger, res RunResult) bool {
	if l.notifier == nil {
		return false
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackNotifyWait)
	defer cancel()

	text := fmt.Sprintf("Host %s: run %s ended with outcome %s after %d turn(s) and %d tool call(s).\n\n%s",
		l.params.Hostname, res.RunID, res.Outcome, res.Turns, res.ToolCalls, res.Final)
	out := l.notifier.Send(nctx, fallbackTitle, text)
	if !out.Sent {
		log.Warn("fallback notification not sent", zap.String("reason", out.Reason), zap.String("error", out.Error))
	}
	return out.Sent
}

func unavailableAnswer(err error) string {
	hint := "Check the provider credentials and connectivity, then rerun."
	if !errors.Is(err, provider.ErrUnavailable) {
		hint = "Check the provider configuration, then rerun."
	}
	return "Decision service unavailable; the run stopped before completing the workflow. " +
		"Changes already made by earlier tool calls are listed in the run journal. " + hint
}

func notificationSent(tr domain.ToolResult) bool {
	if tr.Failed {
		return false
	}
	var out struct {
		Sent bool `json:"sent"`
	}
	return json.Unmarshal([]byte(tr.Content), &out) == nil && out.Sent
}
