package domain

import "strings"

// CrisisResult is the crisis gate's verdict. Both fields empty means no
// crisis; both non-empty means a confirmed crisis.
type CrisisResult struct {
	Flags    []string
	Response string
}

// Normalized trims the response and every flag, dropping blank flags.
func (c CrisisResult) Normalized() CrisisResult {
	out := CrisisResult{Response: strings.TrimSpace(c.Response)}
	for _, f := range c.Flags {
		if f = strings.TrimSpace(f); f != "" {
			out.Flags = append(out.Flags, f)
		}
	}
	return out
}

// IsCrisis holds only when both flags and response survive normalization.
// A response without flags (or the reverse) comes from a partial failure
// and is not treated as a crisis.
func (c CrisisResult) IsCrisis() bool {
	n := c.Normalized()
	return len(n.Flags) > 0 && n.Response != ""
}
