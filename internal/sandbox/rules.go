package sandbox

import (
	"fmt"
	"strings"

	"github.com/arrowship/arrowship/pkg/ingesterr"
	"github.com/arrowship/arrowship/pkg/transport"
)

// Rule rejects rows whose Column matches. With Required set, rows where the
// column is absent or null are rejected; otherwise rows whose value prints
// as Equals are.
type Rule struct {
	Column   string
	Equals   string
	Required bool
	Kind     ingesterr.Kind
	Message  string
}

// Apply returns the rejection for row, if any.
func (r Rule) Apply(row transport.Row) (ingesterr.FailedRow, bool) {
	v, present := row.Values[r.Column]
	var hit bool
	if r.Required {
		hit = !present || v == nil
	} else {
		hit = present && v != nil && fmt.Sprint(v) == r.Equals
	}
	if !hit {
		return ingesterr.FailedRow{}, false
	}

	kind := r.Kind
	if kind == ingesterr.KindUnknown {
		kind = ingesterr.KindTransmission
	}
	msg := r.Message
	switch {
	case msg != "":
	case r.Required:
		msg = fmt.Sprintf("column %s is required", r.Column)
	default:
		msg = fmt.Sprintf("value %q rejected for column %s", r.Equals, r.Column)
	}
	return ingesterr.NewFailedRow(row.Index, kind, "%s", msg), true
}

// ParseRule parses the command-line rule forms "column=value",
// "column=value:Kind" and "!column" (column required).
func ParseRule(s string) (Rule, error) {
	if col, ok := strings.CutPrefix(s, "!"); ok {
		if col == "" {
			return Rule{}, fmt.Errorf("rule %q: empty column", s)
		}
		return Rule{Column: col, Required: true}, nil
	}
	col, rest, ok := strings.Cut(s, "=")
	if !ok || col == "" {
		return Rule{}, fmt.Errorf("rule %q: want column=value[:Kind] or !column", s)
	}
	r := Rule{Column: col, Equals: rest}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		if k, ok := ingesterr.ParseKind(rest[i+1:]); ok {
			r.Equals, r.Kind = rest[:i], k
		}
	}
	return r, nil
}
