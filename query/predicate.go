package query

import "strings"

// Predicate is a typed SQL boolean expression with positional placeholders
// (written as "?"); Render rewrites those into pgx-style "$N" placeholders
// starting at argOffset+1, so predicates compiled independently can be
// combined (filter AND keyset AND ...) without renumbering by hand.
type Predicate struct {
	SQL  string
	Args []any
}

// TruePredicate and FalsePredicate are the constant predicates used for
// vacuous filters and an empty IN() list, respectively.
func TruePredicate() Predicate  { return Predicate{SQL: "1=1"} }
func FalsePredicate() Predicate { return Predicate{SQL: "1=0"} }

func literalPredicate(sql string, args ...any) Predicate {
	return Predicate{SQL: sql, Args: args}
}

// And combines p and q with a logical AND, parenthesizing each side.
func (p Predicate) And(q Predicate) Predicate {
	if p.SQL == "" {
		return q
	}
	if q.SQL == "" {
		return p
	}
	args := make([]any, 0, len(p.Args)+len(q.Args))
	args = append(args, p.Args...)
	args = append(args, q.Args...)
	return Predicate{SQL: "(" + p.SQL + ") AND (" + q.SQL + ")", Args: args}
}

// Or combines p and q with a logical OR.
func (p Predicate) Or(q Predicate) Predicate {
	args := make([]any, 0, len(p.Args)+len(q.Args))
	args = append(args, p.Args...)
	args = append(args, q.Args...)
	return Predicate{SQL: "(" + p.SQL + ") OR (" + q.SQL + ")", Args: args}
}

// Not negates p.
func (p Predicate) Not() Predicate {
	return Predicate{SQL: "NOT (" + p.SQL + ")", Args: p.Args}
}

// IsEmpty reports whether p carries no condition at all.
func (p Predicate) IsEmpty() bool { return p.SQL == "" }

// Render rewrites p's "?" placeholders into pgx-style "$N" placeholders,
// numbering from argOffset+1, and returns the new SQL plus the last number
// used (argOffset plus the placeholders rendered).
func (p Predicate) Render(argOffset int) (sql string, nextOffset int) {
	var b strings.Builder
	b.Grow(len(p.SQL) + len(p.Args)*3)
	n := argOffset
	for i := 0; i < len(p.SQL); i++ {
		if p.SQL[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(itoa(n))
			continue
		}
		b.WriteByte(p.SQL[i])
	}
	return b.String(), n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
