package domain

// StabilizationOutcome is what the stabilizer settled on. Primary is empty
// when no attempt produced an address.
type StabilizationOutcome struct {
	Primary   string   `json:"primary"`
	AllIPv4   []string `json:"all_ipv4"`
	Attempts  int      `json:"attempts"`
	Converged bool     `json:"converged"`
}

// MutationResult reports whether a text transform changed anything.
// When Changed is false, Content is identical to the input.
type MutationResult struct {
	Changed bool   `json:"changed"`
	Content string `json:"content"`
}

type PublishResult struct {
	Pushed bool   `json:"pushed"`
	Reason string `json:"reason,omitempty"`
	Commit string `json:"commit,omitempty"`
}

// NotifyResult is the outcome of a best-effort notification.
type NotifyResult struct {
	Sent   bool   `json:"sent"`
	Status int    `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}
