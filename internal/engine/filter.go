// Filter parsing implements §8 Scenario 3: a small AND-only expression
// grammar over "field OP value" clauses, coercing each value's Go type
// from the declared field list. This is deliberately minimal — the
// spec (§1) treats the general filter-expression grammar as an external
// collaborator; this is the literal contract Scenario 3 pins down.
package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maxdata-sh/max/internal/maxerr"
)

// FilterOp is one of the comparison operators Scenario 3 requires.
type FilterOp string

const (
	OpEq  FilterOp = "="
	OpNe  FilterOp = "!="
	OpGe  FilterOp = ">="
	OpLe  FilterOp = "<="
	OpGt  FilterOp = ">"
	OpLt  FilterOp = "<"
)

var opsByLength = []FilterOp{OpGe, OpLe, OpNe, OpEq, OpGt, OpLt}

// Filter is one coerced "field OP value" clause.
type Filter struct {
	Field string
	Op    FilterOp
	Value any // string, float64 or bool after coercion
}

// ParseFilter parses an "AND"-joined sequence of clauses such as
// `name=Acme AND priority>=2 AND active=true` against the set of known
// field names, coercing each value: a bare numeral becomes float64, the
// literals "true"/"false" become bool, anything else (including a
// double-quoted string, which has its quotes stripped without further
// type coercion) stays a string. Unknown field names raise BadInput, as
// does a clause with no recognized operator.
func ParseFilter(expr string, knownFields []string) ([]Filter, error) {
	known := make(map[string]bool, len(knownFields))
	for _, f := range knownFields {
		known[f] = true
	}

	clauses := splitAnd(expr)
	filters := make([]Filter, 0, len(clauses))
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		f, err := parseClause(clause, known)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func splitAnd(expr string) []string {
	// Split on the literal token " AND " (case-sensitive, matching the
	// spec's literal example). A quoted value never contains " AND " in
	// the example grammar, so a naive split is sufficient here.
	return strings.Split(expr, " AND ")
}

func parseClause(clause string, known map[string]bool) (Filter, error) {
	for _, op := range opsByLength {
		idx := strings.Index(clause, string(op))
		if idx < 0 {
			continue
		}
		// Reject a false match of "=" inside "!=", ">=" or "<=": only
		// accept "=" when the preceding byte is not '!', '>' or '<'.
		if op == OpEq && idx > 0 {
			prev := clause[idx-1]
			if prev == '!' || prev == '>' || prev == '<' {
				continue
			}
		}
		field := strings.TrimSpace(clause[:idx])
		rawValue := strings.TrimSpace(clause[idx+len(op):])
		if !known[field] {
			return Filter{}, maxerr.BadInputError("engine", fmt.Sprintf("unknown filter field %q", field))
		}
		return Filter{Field: field, Op: op, Value: coerce(rawValue)}, nil
	}
	return Filter{}, maxerr.BadInputError("engine", fmt.Sprintf("unrecognized filter clause %q", clause))
}

func coerce(raw string) any {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1]
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}
