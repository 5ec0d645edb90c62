// Package cursor implements keyset (cursor) pagination's opaque token
// codec: encoding/decoding the last-seen ordering keys, the effective order,
// direction, and an optional filter hash.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foundrykit/core/query"
)

// Direction is which way a cursor reads relative to the anchor row.
type Direction string

const (
	Forward  Direction = "fwd"
	Backward Direction = "bwd"
)

// Cursor is the decoded form of an opaque keyset pagination token.
type Cursor struct {
	Keys        []string        `json:"k"`
	PrimaryDir  query.OrderDir  `json:"o"`
	Order       string          `json:"s"`
	FilterHash  string          `json:"f,omitempty"`
	Direction   Direction       `json:"d"`
}

// Encode base64url (no padding) encodes c as JSON. Opaque to clients.
func (c Cursor) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Decode parses an opaque token produced by Encode.
func Decode(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	order, err := query.ParseOrderTokens(c.Order)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	if len(c.Keys) != len(order) {
		return Cursor{}, fmt.Errorf("invalid cursor: key count does not match order")
	}
	return c, nil
}

// EffectiveOrder parses the cursor's signed-token order string back into an
// OrderBy. The cursor's order is authoritative once present (spec §4.4).
func (c Cursor) EffectiveOrder() (query.OrderBy, error) {
	return query.ParseOrderTokens(c.Order)
}

// FilterHash computes the FNV-1a64 hash of a compiled predicate's SQL plus
// its arguments, used to detect a filter change between the page that minted
// a cursor and the page that consumes it (spec §4.3 consistency check).
func FilterHash(p query.Predicate) string {
	h := fnv.New64a()
	h.Write([]byte(p.SQL))
	for _, a := range p.Args {
		h.Write([]byte{0})
		h.Write([]byte(fmt.Sprint(a)))
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// ErrFilterMismatch is returned when a request's filter hash and the
// cursor's embedded filter hash are both present and differ.
var ErrFilterMismatch = fmt.Errorf("filter mismatch")

// CheckFilterConsistency implements the consistency check from spec §4.3.
func CheckFilterConsistency(requestFilterHash, cursorFilterHash string) error {
	if requestFilterHash != "" && cursorFilterHash != "" && requestFilterHash != cursorFilterHash {
		return ErrFilterMismatch
	}
	return nil
}

// BuildForModel encodes a Cursor anchored on row, for the given effective
// order, field map, primary sort direction, optional filter hash, and
// traversal direction. Every order key must resolve to a field with a cursor
// extractor; if one doesn't, ErrMissingExtractor(field) is returned.
func BuildForModel(row query.Row, order query.OrderBy, fm *query.FieldMap, primaryDir query.OrderDir, filterHash string, dir Direction) (Cursor, error) {
	keys := make([]string, len(order))
	for i, ok := range order {
		v, found := fm.EncodeModelKey(row, ok.Field)
		if !found {
			return Cursor{}, &ErrMissingExtractor{Field: ok.Field}
		}
		keys[i] = v
	}
	return Cursor{
		Keys:       keys,
		PrimaryDir: primaryDir,
		Order:      order.Tokens(),
		FilterHash: filterHash,
		Direction:  dir,
	}, nil
}

// ErrMissingExtractor is returned by BuildForModel when an order key's field
// has no cursor extractor (spec: "InvalidOrderByField").
type ErrMissingExtractor struct{ Field string }

func (e *ErrMissingExtractor) Error() string {
	return fmt.Sprintf("field %q has no cursor extractor", e.Field)
}

// ParseValue parses a lexical cursor key value back into a typed Go value
// for the given Kind, mirroring the coercion rules of query.Kind.
func ParseValue(kind query.Kind, s string) (any, error) {
	switch kind {
	case query.KindString, query.KindDate, query.KindTime:
		return s, nil
	case query.KindI64:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, invalidKind("i64")
		}
		return i, nil
	case query.KindF64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, invalidKind("f64")
		}
		return f, nil
	case query.KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, invalidKind("bool")
		}
		return b, nil
	case query.KindUuid:
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, invalidKind("uuid")
		}
		return u, nil
	case query.KindDateTimeUtc:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, invalidKind("datetime")
		}
		return t.UTC(), nil
	case query.KindDecimal:
		if !isDecimalLexical(s) {
			return nil, invalidKind("decimal")
		}
		return s, nil
	default:
		return nil, invalidKind("value")
	}
}

func invalidKind(kind string) error {
	return &query.BuildError{Kind: query.ErrOther, Msg: fmt.Sprintf("invalid %s in cursor", kind)}
}

func isDecimalLexical(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	seenDot := false
	for _, r := range s {
		if r == '.' {
			if seenDot {
				return false
			}
			seenDot = true
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
