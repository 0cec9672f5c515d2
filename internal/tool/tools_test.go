package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dnswatch/internal/domain"
)

type fakeStabilizer struct {
	host     string
	required int
	delay    time.Duration
	out      domain.StabilizationOutcome
}

func (f *fakeStabilizer) Stabilize(_ context.Context, host string, required int, delay time.Duration) domain.StabilizationOutcome {
	f.host, f.required, f.delay = host, required, delay
	return f.out
}

type memState struct {
	ip     string
	setErr error
}

func (m *memState) Get() string { return m.ip }
func (m *memState) Set(ip string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.ip = ip
	return nil
}

type fakePublisher struct {
	branch, message string
	res             domain.PublishResult
	err             error
}

func (f *fakePublisher) CommitAndPush(_ context.Context, branch, message string) (domain.PublishResult, error) {
	f.branch, f.message = branch, message
	return f.res, f.err
}

type fakeNotifier struct {
	title, text string
	res         domain.NotifyResult
}

func (f *fakeNotifier) Send(_ context.Context, title, text string) domain.NotifyResult {
	f.title, f.text = title, text
	return f.res
}

type fixture struct {
	workspace string
	stab      *fakeStabilizer
	state     *memState
	pub       *fakePublisher
	notifier  *fakeNotifier
	reg       *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		workspace: t.TempDir(),
		stab:      &fakeStabilizer{},
		state:     &memState{},
		pub:       &fakePublisher{},
		notifier:  &fakeNotifier{},
	}
	f.reg = NewWatchRegistry(Dependencies{
		Workspace:  f.workspace,
		Branch:     "main",
		Stabilizer: f.stab,
		State:      f.state,
		Publisher:  f.pub,
		Notifier:   f.notifier,
	}, zap.NewNop())
	return f
}

func (f *fixture) call(name string, args map[string]any) domain.ToolResult {
	return f.reg.Dispatch(context.Background(), domain.ToolCall{ID: "call_" + name, Name: name, Arguments: args})
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.workspace, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestWatchRegistry_HasAllTools(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		"get_last_ip", "git_commit_push", "notify_teams", "read_file",
		"replace_ip_literal", "set_last_ip", "stabilize_dns", "yaml_update",
	}, f.reg.Names())
}

func TestStabilizeDNS(t *testing.T) {
	f := newFixture(t)
	f.stab.out = domain.StabilizationOutcome{Primary: "10.0.0.5", AllIPv4: []string{"10.0.0.5", "10.0.0.6"}, Attempts: 3, Converged: true}

	res := f.call("stabilize_dns", map[string]any{"hostname": "kafka.example.internal", "queries": 3.0, "delay_sec": 1.5})

	require.False(t, res.Failed, res.Content)
	assert.JSONEq(t, `{"primary":"10.0.0.5","all_ipv4":["10.0.0.5","10.0.0.6"],"attempts":3,"converged":true}`, res.Content)
	assert.Equal(t, "kafka.example.internal", f.stab.host)
	assert.Equal(t, 3, f.stab.required)
	assert.Equal(t, 1500*time.Millisecond, f.stab.delay)
}

func TestStabilizeDNS_BadArgs(t *testing.T) {
	f := newFixture(t)

	res := f.call("stabilize_dns", map[string]any{"hostname": "not a host!", "queries": 0.0, "delay_sec": 1.0})
	require.True(t, res.Failed)
	msg := decodeContent(t, res)["error"].(string)
	assert.Contains(t, msg, "Bad args:")
	assert.Contains(t, msg, "hostname is not a valid hostname_rfc1123")
	assert.Contains(t, msg, "queries must be >= 1")

	res = f.call("stabilize_dns", map[string]any{"hostname": "kafka", "queries": "three", "delay_sec": 1.0})
	assert.Contains(t, decodeContent(t, res)["error"], "queries must be int")
	assert.Empty(t, f.stab.host, "stabilizer must not run on bad args")
}

func TestLastIPTools(t *testing.T) {
	f := newFixture(t)

	assert.JSONEq(t, `{"ip":""}`, f.call("get_last_ip", nil).Content)

	res := f.call("set_last_ip", map[string]any{"ip": "10.0.0.5"})
	assert.JSONEq(t, `{"ok":true}`, res.Content)
	assert.Equal(t, "10.0.0.5", f.state.ip)

	assert.JSONEq(t, `{"ip":"10.0.0.5"}`, f.call("get_last_ip", map[string]any{}).Content)

	res = f.call("set_last_ip", map[string]any{"ip": "kafka"})
	assert.Contains(t, decodeContent(t, res)["error"], "ip is not a valid ipv4")

	f.state.setErr = errors.New("disk full")
	res = f.call("set_last_ip", map[string]any{"ip": "10.0.0.6"})
	assert.Equal(t, "disk full", decodeContent(t, res)["error"])
}

func TestReadFile(t *testing.T) {
	f := newFixture(t)
	f.write(t, "deploy/helm/values.yaml", "kafka:\n  brokerIP: \"10.0.0.4\"\n")

	res := f.call("read_file", map[string]any{"path": "deploy/helm/values.yaml"})
	assert.JSONEq(t, `{"exists":true,"content":"kafka:\n  brokerIP: \"10.0.0.4\"\n"}`, res.Content)

	res = f.call("read_file", map[string]any{"path": "deploy/missing.yaml"})
	assert.JSONEq(t, `{"exists":false,"content":""}`, res.Content)
	assert.False(t, res.Failed)
}

func TestReadFile_RejectsTraversal(t *testing.T) {
	f := newFixture(t)
	res := f.call("read_file", map[string]any{"path": "../../etc/passwd"})
	require.True(t, res.Failed)
	assert.Contains(t, decodeContent(t, res)["error"], "outside workspace")
}

func TestYAMLUpdate(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "values.yaml", "kafka:\n  brokerIP: \"10.0.0.4\"\n")

	res := f.call("yaml_update", map[string]any{"path": "values.yaml", "keyPath": "kafka.brokerIP", "newValue": "10.0.0.5"})
	require.False(t, res.Failed, res.Content)
	assert.Equal(t, true, decodeContent(t, res)["changed"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "kafka:\n  brokerIP: \"10.0.0.5\"\n", string(data))

	res = f.call("yaml_update", map[string]any{"path": "values.yaml", "keyPath": "kafka.brokerIP", "newValue": "10.0.0.5"})
	assert.Equal(t, false, decodeContent(t, res)["changed"])
}

func TestYAMLUpdate_MissingFileIsError(t *testing.T) {
	f := newFixture(t)
	res := f.call("yaml_update", map[string]any{"path": "nope.yaml", "keyPath": "a.b", "newValue": "1"})
	assert.True(t, res.Failed)
}

func TestReplaceIPLiteral(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "values.yaml", "bootstrap: 10.0.0.4:9092\nbackup: 10.0.0.4\n")

	res := f.call("replace_ip_literal", map[string]any{"path": "values.yaml", "old_ip": "10.0.0.4", "new_ip": "10.0.0.5"})
	require.False(t, res.Failed, res.Content)
	assert.Equal(t, true, decodeContent(t, res)["changed"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bootstrap: 10.0.0.5:9092\nbackup: 10.0.0.5\n", string(data))
}

func TestReplaceIPLiteral_EmptyOldIPAllowed(t *testing.T) {
	f := newFixture(t)
	f.write(t, "values.yaml", "ip: 172.16.0.9\n")

	res := f.call("replace_ip_literal", map[string]any{"path": "values.yaml", "old_ip": "", "new_ip": "10.0.0.5"})
	require.False(t, res.Failed, res.Content)
	assert.Equal(t, "ip: 10.0.0.5\n", decodeContent(t, res)["content"])
}

func TestGitCommitPush(t *testing.T) {
	f := newFixture(t)
	f.pub.res = domain.PublishResult{Pushed: true, Commit: "abc123"}

	res := f.call("git_commit_push", map[string]any{"branch": "main", "message": "Update broker IP to 10.0.0.5"})
	assert.JSONEq(t, `{"pushed":true,"commit":"abc123"}`, res.Content)
	assert.Equal(t, "main", f.pub.branch)
	assert.Equal(t, "Update broker IP to 10.0.0.5", f.pub.message)

	f.pub.res = domain.PublishResult{}
	f.pub.err = errors.New("git push origin main: exit status 1")
	res = f.call("git_commit_push", map[string]any{"branch": "main", "message": "m"})
	assert.True(t, res.Failed)
}

func TestGitCommitPush_OnlyConfiguredBranch(t *testing.T) {
	f := newFixture(t)
	f.pub.res = domain.PublishResult{Pushed: true, Commit: "abc123"}

	res := f.call("git_commit_push", map[string]any{"branch": "release/hotfix", "message": "m"})
	assert.True(t, res.Failed)
	assert.Contains(t, res.Content, `\"release/hotfix\" is not allowed`)
	assert.Empty(t, f.pub.message, "publisher not called")

	res = f.call("git_commit_push", map[string]any{"message": "Update broker IP to 10.0.0.5"})
	require.False(t, res.Failed, res.Content)
	assert.Equal(t, "main", f.pub.branch)
}

func TestNotifyTeams(t *testing.T) {
	f := newFixture(t)
	f.notifier.res = domain.NotifyResult{Sent: false, Reason: "no webhook"}

	res := f.call("notify_teams", map[string]any{"title": "Broker IP updated", "text": "10.0.0.4 -> 10.0.0.5"})
	assert.False(t, res.Failed)
	assert.JSONEq(t, `{"sent":false,"reason":"no webhook"}`, res.Content)
	assert.Equal(t, "Broker IP updated", f.notifier.title)

	res = f.call("notify_teams", map[string]any{"title": "t"})
	assert.Contains(t, decodeContent(t, res)["error"], "text is required")
}
