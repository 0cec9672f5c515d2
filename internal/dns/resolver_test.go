package dns

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const linuxNslookup = `Server:		127.0.0.53
Address:	127.0.0.53#53

Non-authoritative answer:
Name:	kafka.example.internal
Address: 10.0.0.5
Name:	kafka.example.internal
Address: 10.0.0.6
Name:	kafka.example.internal
Address: 2001:db8::5
`

const windowsNslookup = `Server:  dns.corp.example
Address:  192.168.1.1

Non-authoritative answer:
Name:    kafka.example.internal
Addresses:  10.0.0.7
          10.0.0.8
          10.0.0.7
`

func TestParseNslookup_SkipsServerBanner(t *testing.T) {
	got := ParseNslookup([]byte(linuxNslookup))
	assert.Equal(t, []string{"10.0.0.5", "10.0.0.6"}, got)
}

func TestParseNslookup_WindowsContinuationLines(t *testing.T) {
	got := ParseNslookup([]byte(windowsNslookup))
	assert.Equal(t, []string{"10.0.0.7", "10.0.0.8", "10.0.0.7"}, got)
}

func TestParseNslookup_NoAnswer(t *testing.T) {
	out := "Server:\t127.0.0.53\nAddress:\t127.0.0.53#53\n\n** server can't find nope: NXDOMAIN\n"
	assert.Empty(t, ParseNslookup([]byte(out)))
}

func static(ips ...string) LookupFunc {
	return func(context.Context, string) ([]string, error) { return ips, nil }
}

func failing() LookupFunc {
	return func(context.Context, string) ([]string, error) { return nil, errors.New("boom") }
}

func TestResolver_FirstMechanismWins(t *testing.T) {
	r := NewResolverWith(0, zap.NewNop(),
		Lookup{Name: "a", Fn: static("10.0.0.1")},
		Lookup{Name: "b", Fn: static("10.0.0.2")},
	)
	assert.Equal(t, []string{"10.0.0.1"}, r.Resolve(context.Background(), "h"))
}

func TestResolver_FallsBackOnErrorOrEmpty(t *testing.T) {
	r := NewResolverWith(0, zap.NewNop(),
		Lookup{Name: "err", Fn: failing()},
		Lookup{Name: "empty", Fn: static()},
		Lookup{Name: "ok", Fn: static("10.0.0.9")},
	)
	assert.Equal(t, []string{"10.0.0.9"}, r.Resolve(context.Background(), "h"))
}

func TestResolver_DedupesInFirstSeenOrderAndDropsNonIPv4(t *testing.T) {
	r := NewResolverWith(0, zap.NewNop(),
		Lookup{Name: "a", Fn: static("10.0.0.3", "::1", "10.0.0.1", "10.0.0.3", "junk", " 10.0.0.2 ")},
	)
	assert.Equal(t, []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}, r.Resolve(context.Background(), "h"))
}

func TestResolver_AllMechanismsFailYieldsEmpty(t *testing.T) {
	r := NewResolverWith(0, zap.NewNop(),
		Lookup{Name: "a", Fn: failing()},
		Lookup{Name: "b", Fn: failing()},
	)
	assert.Empty(t, r.Resolve(context.Background(), "h"))
}

func TestNslookupFunc_MissingBinary(t *testing.T) {
	fn := NslookupFunc("/nonexistent/nslookup-binary")
	ips, err := fn(context.Background(), "localhost")
	assert.Error(t, err)
	assert.Empty(t, ips)
}
