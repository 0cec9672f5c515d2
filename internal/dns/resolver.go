// Package dns observes which IPv4 addresses a hostname resolves to and
// decides when that answer has settled.
package dns

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultLookupTimeout = 5 * time.Second

// LookupFunc is one resolution mechanism. It may return duplicates or
// non-IPv4 strings; the Resolver filters them.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Lookup names a mechanism for logging.
type Lookup struct {
	Name string
	Fn   LookupFunc
}

// Options configures the default mechanisms.
type Options struct {
	// NslookupPath is the system lookup utility; empty disables it.
	NslookupPath string
	// Nameserver ("host:port") overrides the system resolver for the
	// socket-level lookup.
	Nameserver string
	// Timeout bounds each mechanism per attempt.
	Timeout time.Duration
}

// Resolver returns the distinct IPv4 addresses of a hostname in first-seen
// order. It tries its mechanisms in order and stops at the first one that
// produces an address. It never fails: an unresolvable host yields nil.
type Resolver struct {
	lookups []Lookup
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver creates a Resolver using the system lookup utility with a
// socket-level fallback.
func NewResolver(opts Options, logger *zap.Logger) *Resolver {
	var lookups []Lookup
	if opts.NslookupPath != "" {
		lookups = append(lookups, Lookup{Name: "nslookup", Fn: NslookupFunc(opts.NslookupPath)})
	}
	lookups = append(lookups, Lookup{Name: "socket", Fn: NetLookupFunc(opts.Nameserver)})
	return NewResolverWith(opts.Timeout, logger, lookups...)
}

// NewResolverWith creates a Resolver over explicit mechanisms.
func NewResolverWith(timeout time.Duration, logger *zap.Logger, lookups ...Lookup) *Resolver {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Resolver{
		lookups: lookups,
		timeout: timeout,
		logger:  logger.Named("resolver"),
	}
}

// Resolve returns the distinct IPv4 addresses of host in first-seen order.
// It never fails; nil means no mechanism produced an address.
func (r *Resolver) Resolve(ctx context.Context, host string) []string {
	for _, l := range r.lookups {
		lctx, cancel := context.WithTimeout(ctx, r.timeout)
		raw, err := l.Fn(lctx, host)
		cancel()
		if err != nil {
			r.logger.Debug("lookup failed", zap.String("mechanism", l.Name), zap.String("host", host), zap.Error(err))
			continue
		}
		if ips := uniqueIPv4(raw); len(ips) > 0 {
			r.logger.Debug("lookup answered",
				zap.String("mechanism", l.Name),
				zap.String("host", host),
				zap.Strings("ipv4", ips),
			)
			return ips
		}
	}
	return nil
}

// NslookupFunc runs the system lookup utility and parses its answer section.
func NslookupFunc(path string) LookupFunc {
	return func(ctx context.Context, host string) ([]string, error) {
		out, err := exec.CommandContext(ctx, path, host).Output()
		if err != nil {
			return nil, err
		}
		return ParseNslookup(out), nil
	}
}

// ParseNslookup extracts the answer addresses from nslookup output. Lines
// before the first "Name:" describe the server that answered and are skipped.
func ParseNslookup(out []byte) []string {
	var ips []string
	inAnswer := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Name:") {
			inAnswer = true
			continue
		}
		if !inAnswer {
			continue
		}
		_, rest, ok := strings.Cut(line, ":")
		if !ok {
			// Windows continues an Addresses: list on bare lines.
			rest = line
		}
		for _, field := range strings.FieldsFunc(rest, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			if ip := net.ParseIP(field); ip != nil && ip.To4() != nil {
				ips = append(ips, ip.To4().String())
			}
		}
	}
	return ips
}

// NetLookupFunc resolves with the Go resolver, optionally against a fixed
// nameserver.
func NetLookupFunc(nameserver string) LookupFunc {
	resolver := net.DefaultResolver
	if nameserver != "" {
		resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, nameserver)
			},
		}
	}
	return func(ctx context.Context, host string) ([]string, error) {
		addrs, err := resolver.LookupIP(ctx, "ip4", host)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.String())
		}
		return out, nil
	}
}

func uniqueIPv4(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, s := range raw {
		ip := net.ParseIP(strings.TrimSpace(s))
		if ip == nil || ip.To4() == nil {
			continue
		}
		v := ip.To4().String()
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
