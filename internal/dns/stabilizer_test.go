package dns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// sequenceResolver answers from a fixed script, then repeats its last entry.
type sequenceResolver struct {
	answers [][]string
	calls   int
}

func (s *sequenceResolver) Resolve(context.Context, string) []string {
	i := s.calls
	s.calls++
	if len(s.answers) == 0 {
		return nil
	}
	if i >= len(s.answers) {
		i = len(s.answers) - 1
	}
	return s.answers[i]
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestStabilizer(res AddressResolver) (*Stabilizer, *sleepRecorder) {
	rec := &sleepRecorder{}
	return NewStabilizer(res, zap.NewNop()).WithSleeper(rec.sleep), rec
}

func TestStabilize_ConvergesOnConsecutiveMatches(t *testing.T) {
	res := &sequenceResolver{answers: [][]string{
		{"10.0.0.4"},
		{"10.0.0.5", "10.0.0.6"},
		{"10.0.0.5"},
		{"10.0.0.5", "10.0.0.7"},
	}}
	s, rec := newTestStabilizer(res)

	out := s.Stabilize(context.Background(), "kafka", 3, time.Second)

	assert.True(t, out.Converged)
	assert.Equal(t, "10.0.0.5", out.Primary)
	assert.Equal(t, []string{"10.0.0.5", "10.0.0.7"}, out.AllIPv4)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, 4, res.calls)
	assert.Len(t, rec.delays, 3)
	for _, d := range rec.delays {
		assert.Equal(t, time.Second, d)
	}
}

func TestStabilize_EmptyAnswersDoNotResetStreak(t *testing.T) {
	res := &sequenceResolver{answers: [][]string{
		{"10.0.0.5"},
		nil,
		{"10.0.0.5"},
		nil,
		{"10.0.0.5"},
	}}
	s, _ := newTestStabilizer(res)

	out := s.Stabilize(context.Background(), "kafka", 3, 0)

	assert.True(t, out.Converged)
	assert.Equal(t, "10.0.0.5", out.Primary)
	assert.Equal(t, 5, out.Attempts)
}

func TestStabilize_NonConvergenceIsBounded(t *testing.T) {
	var answers [][]string
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			answers = append(answers, []string{"10.0.0.1"})
		} else {
			answers = append(answers, []string{"10.0.0.2", "10.0.0.1"})
		}
	}
	res := &sequenceResolver{answers: answers}
	s, rec := newTestStabilizer(res)

	out := s.Stabilize(context.Background(), "flappy", 2, time.Millisecond)

	assert.False(t, out.Converged)
	assert.Equal(t, 10, res.calls, "at most required*5 resolutions")
	assert.Equal(t, 10, out.Attempts)
	assert.Len(t, rec.delays, 9, "no pause after the final attempt")
	// last observed candidate and its address list
	assert.Equal(t, "10.0.0.2", out.Primary)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.1"}, out.AllIPv4)
}

func TestStabilize_NeverResolvesReturnsEmpty(t *testing.T) {
	res := &sequenceResolver{}
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStabilizer(res, zap.New(core)).WithSleeper(func(context.Context, time.Duration) error { return nil })

	out := s.Stabilize(context.Background(), "nxdomain", 3, time.Second)

	assert.False(t, out.Converged)
	assert.Empty(t, out.Primary)
	assert.NotNil(t, out.AllIPv4)
	assert.Empty(t, out.AllIPv4)
	assert.Equal(t, 15, res.calls)
	assert.Equal(t, 15, logs.FilterMessage("no address in answer").Len())
	assert.Equal(t, 1, logs.FilterMessage("address did not stabilize").Len())
}

func TestStabilize_RequiredBelowOneTreatedAsOne(t *testing.T) {
	res := &sequenceResolver{answers: [][]string{{"10.0.0.8"}}}
	s, rec := newTestStabilizer(res)

	out := s.Stabilize(context.Background(), "h", 0, time.Second)

	assert.True(t, out.Converged)
	assert.Equal(t, "10.0.0.8", out.Primary)
	assert.Equal(t, 1, res.calls)
	assert.Empty(t, rec.delays)
}

func TestStabilize_CancelledContextStopsEarly(t *testing.T) {
	res := &sequenceResolver{answers: [][]string{{"10.0.0.1"}, {"10.0.0.2"}}}
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStabilizer(res, zap.NewNop()).WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	out := s.Stabilize(ctx, "h", 3, time.Hour)

	require.False(t, out.Converged)
	assert.Equal(t, 1, res.calls)
	assert.Equal(t, "10.0.0.1", out.Primary)
}

func TestSleepContext_HonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
