// Package mutate rewrites the address held in a deployment values file.
//
// Both strategies are pure text transforms: they touch the minimum number of
// characters, leave everything else byte-identical, and report Changed=false
// with the input unchanged when there is nothing to do.
package mutate

import (
	"net"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"dnswatch/internal/domain"
)

var ipv4Literal = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])\.){3}(?:25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])\b`)

// UpdateKey sets the scalar at keyPath (dot separated) to newValue, written
// as a double-quoted string. When the document parses and the full path
// resolves, that exact line is rewritten; otherwise the first line assigning
// the last path segment is. At most one line changes.
func UpdateKey(content, keyPath, newValue string) domain.MutationResult {
	lines, idx, key, lineRe := locateKey(content, keyPath)
	if idx < 0 {
		return unchanged(content)
	}

	line := lines[idx]
	cr := ""
	if strings.HasSuffix(line, "\r") {
		cr = "\r"
	}
	m := lineRe.FindStringSubmatch(trimCR(line))
	updated := m[1] + key + ": " + strconv.Quote(newValue) + cr
	if updated == line {
		return unchanged(content)
	}
	lines[idx] = updated
	return domain.MutationResult{Changed: true, Content: strings.Join(lines, "\n")}
}

// HasKey reports whether UpdateKey would find a line to rewrite for keyPath.
func HasKey(content, keyPath string) bool {
	_, idx, _, _ := locateKey(content, keyPath)
	return idx >= 0
}

// locateKey splits content into lines and finds the index of the line that
// assigns keyPath, or -1.
func locateKey(content, keyPath string) ([]string, int, string, *regexp.Regexp) {
	key := keyPath
	if i := strings.LastIndex(keyPath, "."); i >= 0 {
		key = keyPath[i+1:]
	}
	if key == "" {
		return nil, -1, "", nil
	}
	lineRe := regexp.MustCompile(`^([ \t]*)` + regexp.QuoteMeta(key) + `[ \t]*:.*$`)

	lines := strings.Split(content, "\n")
	if n := keyLine(content, keyPath); n > 0 && n <= len(lines) && lineRe.MatchString(trimCR(lines[n-1])) {
		return lines, n - 1, key, lineRe
	}
	for i, l := range lines {
		if lineRe.MatchString(trimCR(l)) {
			return lines, i, key, lineRe
		}
	}
	return lines, -1, key, lineRe
}

// ReplaceLiteral replaces every occurrence of the IPv4 literal oldIP with
// newIP. When oldIP does not occur (or is empty), the first IPv4 literal in
// the content is the one replaced everywhere instead. Matches are whole
// addresses only: replacing 10.0.0.4 never touches 10.0.0.40.
func ReplaceLiteral(content, oldIP, newIP string) domain.MutationResult {
	matches := ipv4Literal.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return unchanged(content)
	}

	target := ""
	for _, m := range matches {
		if content[m[0]:m[1]] == oldIP {
			target = oldIP
			break
		}
	}
	if target == "" {
		target = content[matches[0][0]:matches[0][1]]
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		if content[m[0]:m[1]] != target {
			continue
		}
		b.WriteString(content[last:m[0]])
		b.WriteString(newIP)
		last = m[1]
	}
	b.WriteString(content[last:])

	out := b.String()
	if out == content {
		return unchanged(content)
	}
	return domain.MutationResult{Changed: true, Content: out}
}

// ContainsAddress reports whether content holds ip as a whole IPv4
// literal. 10.0.0.5 is not found inside 10.0.0.50.
func ContainsAddress(content, ip string) bool {
	for _, m := range ipv4Literal.FindAllString(content, -1) {
		if m == ip {
			return true
		}
	}
	return false
}

// IsIPv4 reports whether s is a dotted-quad IPv4 address.
func IsIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && !strings.Contains(s, ":")
}

// keyLine returns the 1-based line of the key at keyPath, or 0.
func keyLine(content, keyPath string) int {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return 0
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return 0
	}
	node := doc.Content[0]
	segments := strings.Split(keyPath, ".")
	for i, seg := range segments {
		if node.Kind != yaml.MappingNode {
			return 0
		}
		var key, value *yaml.Node
		for j := 0; j+1 < len(node.Content); j += 2 {
			if node.Content[j].Value == seg {
				key, value = node.Content[j], node.Content[j+1]
				break
			}
		}
		if value == nil {
			return 0
		}
		if i == len(segments)-1 {
			if value.Kind != yaml.ScalarNode {
				return 0
			}
			return key.Line
		}
		node = value
	}
	return 0
}

func trimCR(s string) string { return strings.TrimSuffix(s, "\r") }

func unchanged(content string) domain.MutationResult {
	return domain.MutationResult{Changed: false, Content: content}
}
