// Package version provides SemVer checks for fleet server versions.
package version

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "version:check"

var bareVersionRegex = regexp.MustCompile(`^\d+(\.\d+)?(\.\d+)?(-[\w.]+)?(\+[\w.]+)?$`)

// Checker evaluates reported server versions against a minimum-version
// constraint. The receiver uses it to annotate outdated fleet members.
type Checker struct {
	constraint *masterminds.Constraints
	expr       string
}

// NewChecker parses a constraint expression. A bare version ("1.0.0",
// "1.2") is treated as a minimum (">= 1.0.0"); anything else is parsed
// as a SemVer range ("^1.2.0", ">= 1.0.0 < 2.0.0"). An empty expression
// returns a nil Checker, meaning no version checks are performed.
func NewChecker(expr string) (*Checker, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, nil
	}
	if bareVersionRegex.MatchString(trimmed) {
		trimmed = ">= " + trimmed
	}

	constraint, err := masterminds.NewConstraint(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid version constraint %q: %w", logPrefix, expr, err)
	}
	return &Checker{constraint: constraint, expr: trimmed}, nil
}

// Constraint returns the normalized constraint expression.
func (c *Checker) Constraint() string {
	if c == nil {
		return ""
	}
	return c.expr
}

// Outdated reports whether a server's reported version fails the
// constraint. Empty or unparseable versions count as outdated: a server
// that cannot say what it runs needs attention either way. A nil
// Checker never reports outdated.
func (c *Checker) Outdated(reported string) bool {
	if c == nil {
		return false
	}
	sv, err := masterminds.NewVersion(strings.TrimSpace(reported))
	if err != nil {
		return true
	}
	return !c.constraint.Check(sv)
}
