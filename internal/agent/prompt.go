package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"dnswatch/internal/domain"
)

// RunParams are the operator inputs of one watch run. They are sent to the
// model as the first user message.
type RunParams struct {
	Hostname          string  `json:"hostname"`
	ValuesFile        string  `json:"values_file"`
	YAMLKey           string  `json:"yaml_key"`
	Branch            string  `json:"branch"`
	StabilizeQueries  int     `json:"stabilize_queries"`
	StabilizeDelaySec float64 `json:"stabilize_delay_sec"`
}

// PromptBuilder renders the system instruction and the seed conversation.
type PromptBuilder struct {
	params RunParams
	extra  string
}

func NewPromptBuilder(params RunParams) *PromptBuilder {
	return &PromptBuilder{params: params}
}

// WithExtra appends operator-supplied text to the rules section.
func (p *PromptBuilder) WithExtra(extra string) *PromptBuilder {
	p.extra = strings.TrimSpace(extra)
	return p
}

func (p *PromptBuilder) SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are a DevOps DNS watcher agent. Your job:\n")
	fmt.Fprintf(&sb, "1) Call stabilize_dns(%q, %d, %g).\n",
		p.params.Hostname, p.params.StabilizeQueries, p.params.StabilizeDelaySec)
	sb.WriteString("2) Compare the stabilized IPv4 'primary' with get_last_ip().\n")
	if p.params.YAMLKey == "" {
		fmt.Fprintf(&sb, "3) If changed, update %s with replace_ip_literal(%q, old_ip, new_ip).\n",
			p.params.ValuesFile, p.params.ValuesFile)
	} else {
		fmt.Fprintf(&sb, "3) If changed, update %s with yaml_update(%q, %q, ip) when the key exists,\n",
			p.params.ValuesFile, p.params.ValuesFile, p.params.YAMLKey)
		sb.WriteString("   otherwise fall back to replace_ip_literal(path, old_ip, new_ip).\n")
	}
	fmt.Fprintf(&sb, "4) Commit and push via git_commit_push(%q, \"chore: update <host> <old_ip> -> <new_ip>\").\n",
		p.params.Branch)
	sb.WriteString("5) Persist state with set_last_ip(new_ip), only after the push succeeded.\n")
	sb.WriteString("6) Call notify_teams with a short operational summary.\n")
	sb.WriteString("\nRules:\n")
	for _, r := range rules {
		sb.WriteString("- ")
		sb.WriteString(r)
		sb.WriteByte('\n')
	}
	if p.extra != "" {
		sb.WriteString("- ")
		sb.WriteString(p.extra)
		sb.WriteByte('\n')
	}
	return sb.String()
}

var rules = []string{
	"Use tools for ALL actions and I/O; never invent file paths.",
	"Only commit if there is an actual textual change.",
	"Always quote the IP in YAML values.",
	"Keep messages concise and operational.",
	"If the hostname has multiple A records, use 'primary' from stabilize_dns and include all_ipv4 in the summary.",
	"If stabilize_dns did not converge or returned no primary, change nothing and report it.",
	"On failure, still call notify_teams with a remediation hint.",
	"Do not push if new_ip equals old_ip.",
}

// Seed returns the initial conversation: system instruction then the run
// parameters as a JSON user message.
func (p *PromptBuilder) Seed() []domain.Message {
	params, _ := json.Marshal(p.params)
	return []domain.Message{
		{Role: domain.RoleSystem, Content: p.SystemPrompt()},
		{Role: domain.RoleUser, Content: string(params)},
	}
}
