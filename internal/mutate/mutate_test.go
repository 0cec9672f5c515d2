package mutate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const values = `# broker settings
replicaCount: 2
kafka:
  brokerIP: "10.0.0.4"
  port: 9092
monitoring:
  brokerIP: 10.9.9.9
`

func TestUpdateKey_PathAwareTarget(t *testing.T) {
	res := UpdateKey(values, "monitoring.brokerIP", "10.0.0.5")
	require.True(t, res.Changed)
	assert.Contains(t, res.Content, "kafka:\n  brokerIP: \"10.0.0.4\"\n")
	assert.Contains(t, res.Content, "monitoring:\n  brokerIP: \"10.0.0.5\"\n")
}

func TestUpdateKey_OnlyTargetLineChanges(t *testing.T) {
	res := UpdateKey(values, "kafka.brokerIP", "10.0.0.5")
	require.True(t, res.Changed)
	want := `# broker settings
replicaCount: 2
kafka:
  brokerIP: "10.0.0.5"
  port: 9092
monitoring:
  brokerIP: 10.9.9.9
`
	assert.Equal(t, want, res.Content)
}

func TestUpdateKey_Idempotent(t *testing.T) {
	first := UpdateKey(values, "kafka.brokerIP", "10.0.0.5")
	require.True(t, first.Changed)

	second := UpdateKey(first.Content, "kafka.brokerIP", "10.0.0.5")
	assert.False(t, second.Changed)
	assert.Equal(t, first.Content, second.Content)
}

func TestUpdateKey_SameValueIsNoChange(t *testing.T) {
	res := UpdateKey(values, "kafka.brokerIP", "10.0.0.4")
	assert.False(t, res.Changed)
	assert.Equal(t, values, res.Content)
}

func TestUpdateKey_FallsBackToFirstTerminalMatch(t *testing.T) {
	// not valid YAML, so the path cannot be resolved
	broken := "kafka:\n\tbrokerIP: 1.1.1.1\n  other: [\n"
	res := UpdateKey(broken, "does.not.exist.brokerIP", "10.0.0.5")
	require.True(t, res.Changed)
	assert.Equal(t, "kafka:\n\tbrokerIP: \"10.0.0.5\"\n  other: [\n", res.Content)
}

func TestUpdateKey_MissingKeyIsNoChange(t *testing.T) {
	res := UpdateKey(values, "kafka.zookeeper", "10.0.0.5")
	assert.False(t, res.Changed)
	assert.Equal(t, values, res.Content)
}

func TestUpdateKey_KeepsCRLF(t *testing.T) {
	in := "kafka:\r\n  brokerIP: 1.2.3.4\r\n  port: 9092\r\n"
	res := UpdateKey(in, "kafka.brokerIP", "10.0.0.5")
	require.True(t, res.Changed)
	assert.Equal(t, "kafka:\r\n  brokerIP: \"10.0.0.5\"\r\n  port: 9092\r\n", res.Content)
}

func TestReplaceLiteral_AllOccurrencesOfOld(t *testing.T) {
	in := "a: 10.0.0.4\nb: http://10.0.0.4:9092\nc: 10.0.0.40\n"
	res := ReplaceLiteral(in, "10.0.0.4", "10.0.0.5")
	require.True(t, res.Changed)
	assert.Equal(t, "a: 10.0.0.5\nb: http://10.0.0.5:9092\nc: 10.0.0.40\n", res.Content)
}

func TestReplaceLiteral_FallsBackToFirstLiteral(t *testing.T) {
	in := "brokers: 172.16.0.1,172.16.0.2\nbackup: 172.16.0.1\n"
	res := ReplaceLiteral(in, "10.0.0.4", "10.0.0.5")
	require.True(t, res.Changed)
	assert.Equal(t, "brokers: 10.0.0.5,172.16.0.2\nbackup: 10.0.0.5\n", res.Content)
}

func TestReplaceLiteral_EmptyOldUsesFirstLiteral(t *testing.T) {
	res := ReplaceLiteral("ip: 192.168.1.10\n", "", "10.0.0.5")
	require.True(t, res.Changed)
	assert.Equal(t, "ip: 10.0.0.5\n", res.Content)
}

func TestReplaceLiteral_NoLiteral(t *testing.T) {
	in := "host: kafka.internal\n"
	res := ReplaceLiteral(in, "10.0.0.4", "10.0.0.5")
	assert.False(t, res.Changed)
	assert.Equal(t, in, res.Content)
}

func TestReplaceLiteral_SameAddressIsNoChange(t *testing.T) {
	in := "ip: 10.0.0.5\n"
	res := ReplaceLiteral(in, "10.0.0.5", "10.0.0.5")
	assert.False(t, res.Changed)
	assert.Equal(t, in, res.Content)
}

func TestIsIPv4(t *testing.T) {
	assert.True(t, IsIPv4("10.0.0.5"))
	assert.False(t, IsIPv4("::ffff:10.0.0.5"))
	assert.False(t, IsIPv4("kafka"))
	assert.False(t, IsIPv4(""))
}

// --- file wrappers ---

func writeValues(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestUpdateKeyInFile_WritesOnlyOnChange(t *testing.T) {
	path := writeValues(t, values)
	before, err := os.Stat(path)
	require.NoError(t, err)

	res, err := UpdateKeyInFile(path, "kafka.brokerIP", "10.0.0.4")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	res, err = UpdateKeyInFile(path, "kafka.brokerIP", "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, res.Content, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestUpdateKeyInFile_MissingFile(t *testing.T) {
	_, err := UpdateKeyInFile(filepath.Join(t.TempDir(), "nope.yaml"), "kafka.brokerIP", "10.0.0.5")
	assert.Error(t, err)
}

func TestReplaceLiteralInFile(t *testing.T) {
	path := writeValues(t, "bootstrap: 10.0.0.4:9092\n")
	res, err := ReplaceLiteralInFile(path, "10.0.0.4", "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, res.Changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bootstrap: 10.0.0.5:9092\n", string(data))
}

func TestHasKey(t *testing.T) {
	doc := "kafka:\n  brokerIP: \"10.0.0.4\"\n"
	assert.True(t, HasKey(doc, "kafka.brokerIP"))
	assert.True(t, HasKey("bootstrap:\n  brokerIP: 1.2.3.4\n", "kafka.brokerIP"), "terminal key fallback")
	assert.False(t, HasKey(doc, "kafka.port"))
	assert.False(t, HasKey(doc, "kafka."))
}

func TestHasKey_EmptyPath(t *testing.T) {
	assert.False(t, HasKey("kafka:\n  brokerIP: \"10.0.0.4\"\n", ""))
}

func TestContainsAddress(t *testing.T) {
	assert.True(t, ContainsAddress("bootstrap: 10.0.0.5:9092\n", "10.0.0.5"))
	assert.True(t, ContainsAddress("ip: \"10.0.0.5\"", "10.0.0.5"))
	assert.False(t, ContainsAddress("ip: 10.0.0.50\n", "10.0.0.5"))
	assert.False(t, ContainsAddress("ip: 110.0.0.5\n", "10.0.0.5"))
	assert.False(t, ContainsAddress("", "10.0.0.5"))
}
