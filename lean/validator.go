package lean

import (
	"fmt"
	"regexp"
	"strings"
)

// Policy describes which imports and operations submitted code may use.
// An empty AllowedImports list means any import not explicitly blocked is
// accepted.
type Policy struct {
	AllowedImports     []string
	BlockedImports     []string
	DisallowedPatterns []string
}

var importRe = regexp.MustCompile(`^\s*import\s+([A-Za-z0-9_.]+)`)

// Validator checks Lean source against a Policy before any sandbox work.
type Validator struct {
	policy   Policy
	patterns []*regexp.Regexp
}

// NewValidator compiles the policy's disallowed-operation patterns.
func NewValidator(policy Policy) (*Validator, error) {
	patterns := make([]*regexp.Regexp, 0, len(policy.DisallowedPatterns))
	for _, p := range policy.DisallowedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid disallowed pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &Validator{policy: policy, patterns: patterns}, nil
}

// Validate reports whether code passes the policy. Imports are checked
// top to bottom and the first violation wins; the returned reason names
// the offending import or operation.
func (v *Validator) Validate(code string) (bool, string) {
	for _, line := range strings.Split(code, "\n") {
		m := importRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ns := m[1]
		for _, blocked := range v.policy.BlockedImports {
			if matchesNamespace(ns, blocked) {
				return false, fmt.Sprintf("import %s is blocked for security reasons", ns)
			}
		}
		if len(v.policy.AllowedImports) > 0 && !v.isAllowed(ns) {
			return false, fmt.Sprintf("import %s is not in the allowed list", ns)
		}
	}

	for _, re := range v.patterns {
		if m := re.FindString(code); m != "" {
			return false, fmt.Sprintf("IO operation %s is not permitted", m)
		}
	}

	return true, ""
}

func (v *Validator) isAllowed(ns string) bool {
	for _, allowed := range v.policy.AllowedImports {
		if matchesNamespace(ns, allowed) {
			return true
		}
	}
	return false
}

// matchesNamespace reports whether ns equals entry or sits underneath it.
func matchesNamespace(ns, entry string) bool {
	return ns == entry || strings.HasPrefix(ns, entry+".")
}
