// Package pagination composes the filter compiler and cursor codec into a
// keyset (cursor) pagination engine: forward/backward traversal with
// lexicographic tie-breaking, overfetch-by-one, and filter-hash consistency.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foundrykit/core/cursor"
	"github.com/foundrykit/core/query"
)

// Tiebreaker is the column appended to a client-supplied order, if not
// already present, to make the effective order a total order.
type Tiebreaker struct {
	Field string
	Dir   query.OrderDir
}

// LimitCfg bounds the page size a caller may request.
type LimitCfg struct {
	Default uint64
	Max     uint64
}

// Clamp resolves a requested limit to [1, Max], defaulting to Default when
// requested is nil.
func (c LimitCfg) Clamp(requested *uint64) uint64 {
	if requested == nil {
		if c.Default == 0 {
			return 1
		}
		return c.Default
	}
	n := *requested
	if n < 1 {
		return 1
	}
	if c.Max > 0 && n > c.Max {
		return c.Max
	}
	return n
}

// Request is one page request: an optional filter AST, a client order (used
// only when no cursor is present), an opaque cursor token, and an optional
// requested limit.
type Request struct {
	Filter query.Expr
	Order  query.OrderBy
	Cursor string
	Limit  *uint64
}

// PageInfo carries the pagination cursors and the limit actually applied.
type PageInfo struct {
	NextCursor *string
	PrevCursor *string
	Limit      uint64
}

// Page is one page of T, plus PageInfo describing how to continue.
type Page[T any] struct {
	Items    []T
	PageInfo PageInfo
}

// Error kinds from spec §4.4 / §7.
var (
	ErrInvalidCursor        = errors.New("invalid cursor")
	ErrInvalidOrderByField  = errors.New("invalid order by field")
	ErrFilterMismatch       = cursor.ErrFilterMismatch
)

// InvalidFilterError wraps a query.BuildError as pagination's InvalidFilter
// error kind.
type InvalidFilterError struct{ Err error }

func (e *InvalidFilterError) Error() string { return "invalid filter: " + e.Err.Error() }
func (e *InvalidFilterError) Unwrap() error  { return e.Err }

// DbError wraps a driver/storage error as pagination's Db error kind.
type DbError struct{ Err error }

func (e *DbError) Error() string { return "db: " + e.Err.Error() }
func (e *DbError) Unwrap() error { return e.Err }

// Row pairs a scanned domain item with the query.Row view of the same row
// used for cursor field extraction.
type Row[T any] struct {
	Item T
	View query.Row
}

// Rows is the minimal row-iteration surface Paginate needs; pgx.Rows
// satisfies it directly.
type Rows interface {
	Next() bool
	Err() error
	Close()
}

// RowScanner scans the current row of Rows into a domain item plus a
// query.Row view, for a given Rows implementation R.
type RowScanner[T any, R Rows] func(r R) (Row[T], error)

// Paginate executes baseQuery (a bare "SELECT ... FROM ..." with no WHERE,
// ORDER BY, or LIMIT clause) filtered, keyset-bounded, ordered, and
// overfetched-by-one according to req, fm, tiebreaker and limitCfg. scan is
// called once per fetched row to materialize both the domain item and its
// query.Row view.
func Paginate[T any, R Rows](
	ctx context.Context,
	conn interface {
		Query(ctx context.Context, sql string, args ...any) (R, error)
	},
	baseQuery string,
	req Request,
	fm *query.FieldMap,
	tiebreaker Tiebreaker,
	limitCfg LimitCfg,
	scan RowScanner[T, R],
) (Page[T], error) {
	effectiveOrder, direction, decoded, err := resolveOrder(req, fm, tiebreaker)
	if err != nil {
		return Page[T]{}, err
	}

	filterPred, err := compileFilter(req.Filter, fm)
	if err != nil {
		return Page[T]{}, err
	}
	filterHash := cursor.FilterHash(filterPred)

	if decoded != nil {
		if err := cursor.CheckFilterConsistency(filterHash, decoded.FilterHash); err != nil {
			return Page[T]{}, err
		}
	}

	pred := filterPred
	if decoded != nil {
		keysetPred, err := buildKeysetPredicate(effectiveOrder, fm, decoded.Keys, direction)
		if err != nil {
			return Page[T]{}, err
		}
		pred = pred.And(keysetPred)
	}

	requestedLimit := limitCfg.Clamp(req.Limit)
	sqlOrder := effectiveOrder
	if direction == cursor.Backward {
		sqlOrder = effectiveOrder.Reversed()
	}

	sql, args, err := buildQuery(baseQuery, pred, sqlOrder, fm, requestedLimit+1)
	if err != nil {
		return Page[T]{}, err
	}

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return Page[T]{}, &DbError{Err: err}
	}
	defer rows.Close()

	var fetched []Row[T]
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return Page[T]{}, &DbError{Err: err}
		}
		fetched = append(fetched, r)
	}
	if err := rows.Err(); err != nil {
		return Page[T]{}, &DbError{Err: err}
	}

	hasMore := uint64(len(fetched)) > requestedLimit

	if direction == cursor.Backward {
		if hasMore {
			fetched = fetched[:requestedLimit]
		}
		reverseRows(fetched)
	} else if hasMore {
		fetched = fetched[:requestedLimit]
	}

	pageInfo, err := buildPageInfo(fetched, effectiveOrder, fm, direction, filterHash, req.Cursor != "", hasMore, requestedLimit)
	if err != nil {
		return Page[T]{}, err
	}

	items := make([]T, len(fetched))
	for i, r := range fetched {
		items[i] = r.Item
	}
	return Page[T]{Items: items, PageInfo: pageInfo}, nil
}

func reverseRows[T any](rows []Row[T]) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

func compileFilter(e query.Expr, fm *query.FieldMap) (query.Predicate, error) {
	if e == nil {
		return query.TruePredicate(), nil
	}
	pred, err := query.ExprToCondition(e, fm)
	if err != nil {
		return query.Predicate{}, &InvalidFilterError{Err: err}
	}
	return pred, nil
}

// resolveOrder derives the effective order per spec §4.4: authoritative from
// the cursor when one is present, else the client's order with the
// tiebreaker ensured.
func resolveOrder(req Request, fm *query.FieldMap, tiebreaker Tiebreaker) (query.OrderBy, cursor.Direction, *cursor.Cursor, error) {
	if req.Cursor == "" {
		order := req.Order.EnsureTiebreaker(tiebreaker.Field, tiebreaker.Dir)
		for _, k := range order {
			if _, ok := fm.Get(k.Field); !ok {
				return nil, "", nil, fmt.Errorf("%w: %s", ErrInvalidOrderByField, k.Field)
			}
		}
		return order, cursor.Forward, nil, nil
	}

	decoded, err := cursor.Decode(req.Cursor)
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: %s", ErrInvalidCursor, err)
	}
	order, err := decoded.EffectiveOrder()
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: %s", ErrInvalidCursor, err)
	}
	for _, k := range order {
		if _, ok := fm.Get(k.Field); !ok {
			return nil, "", nil, fmt.Errorf("%w: %s", ErrInvalidOrderByField, k.Field)
		}
	}
	return order, decoded.Direction, &decoded, nil
}

// buildKeysetPredicate implements the lexicographic keyset predicate from
// spec §4.4: (k0 ▷ v0) OR (k0=v0 AND k1 ▷ v1) OR ..., where ▷ depends on
// both the field's own direction and the traversal direction.
func buildKeysetPredicate(order query.OrderBy, fm *query.FieldMap, keys []string, dir cursor.Direction) (query.Predicate, error) {
	if len(order) != len(keys) {
		return query.Predicate{}, fmt.Errorf("%w: cursor key count mismatch", ErrInvalidCursor)
	}

	values := make([]any, len(order))
	for i, k := range order {
		field, ok := fm.Get(k.Field)
		if !ok {
			return query.Predicate{}, fmt.Errorf("%w: %s", ErrInvalidOrderByField, k.Field)
		}
		v, err := cursor.ParseValue(field.Kind, keys[i])
		if err != nil {
			return query.Predicate{}, fmt.Errorf("%w: %s", ErrInvalidCursor, err)
		}
		values[i] = v
	}

	var clauses []string
	var args []any
	for i := range order {
		var clause strings.Builder
		var clauseArgs []any
		for j := 0; j < i; j++ {
			field, _ := fm.Get(order[j].Field)
			if j > 0 {
				clause.WriteString(" AND ")
			}
			clause.WriteString(field.Column.Expr())
			clause.WriteString(" = ?")
			clauseArgs = append(clauseArgs, values[j])
		}
		field, _ := fm.Get(order[i].Field)
		if i > 0 {
			clause.WriteString(" AND ")
		}
		clause.WriteString(field.Column.Expr())
		clause.WriteString(" ")
		clause.WriteString(rangeOp(order[i].Dir, dir))
		clause.WriteString(" ?")
		clauseArgs = append(clauseArgs, values[i])

		clauses = append(clauses, "("+clause.String()+")")
		args = append(args, clauseArgs...)
	}

	return query.Predicate{SQL: strings.Join(clauses, " OR "), Args: args}, nil
}

// rangeOp picks '▷' per spec §4.4: fieldDir Asc + Forward => '>'; Desc +
// Forward => '<'; and both flip for Backward traversal.
func rangeOp(fieldDir query.OrderDir, dir cursor.Direction) string {
	gt := fieldDir == query.Asc
	if dir == cursor.Backward {
		gt = !gt
	}
	if gt {
		return ">"
	}
	return "<"
}

func buildQuery(baseQuery string, pred query.Predicate, order query.OrderBy, fm *query.FieldMap, limit uint64) (string, []any, error) {
	var b strings.Builder
	b.WriteString(baseQuery)

	var args []any
	if !pred.IsEmpty() {
		sql, _ := pred.Render(0)
		b.WriteString(" WHERE ")
		b.WriteString(sql)
		args = pred.Args
	}

	if len(order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, k := range order {
			if i > 0 {
				b.WriteString(", ")
			}
			field, ok := fm.Get(k.Field)
			if !ok {
				return "", nil, fmt.Errorf("%w: %s", ErrInvalidOrderByField, k.Field)
			}
			b.WriteString(field.Column.Expr())
			if k.Dir == query.Desc {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
	}

	b.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	return b.String(), args, nil
}

// buildPageInfo implements the cursor-emission rules of spec §4.4.
func buildPageInfo[T any](rows []Row[T], order query.OrderBy, fm *query.FieldMap, dir cursor.Direction, filterHash string, hadCursor bool, hasMore bool, limit uint64) (PageInfo, error) {
	info := PageInfo{Limit: limit}
	if len(rows) == 0 {
		return info, nil
	}

	primaryDir := query.Asc
	if len(order) > 0 {
		primaryDir = order[0].Dir
	}

	mint := func(row query.Row, d cursor.Direction) (*string, error) {
		c, err := cursor.BuildForModel(row, order, fm, primaryDir, filterHash, d)
		if err != nil {
			return nil, err
		}
		tok, err := c.Encode()
		if err != nil {
			return nil, err
		}
		return &tok, nil
	}

	last := rows[len(rows)-1].View
	first := rows[0].View

	switch dir {
	case cursor.Backward:
		next, err := mint(last, cursor.Forward)
		if err != nil {
			return PageInfo{}, err
		}
		info.NextCursor = next
		if hasMore {
			prev, err := mint(first, cursor.Backward)
			if err != nil {
				return PageInfo{}, err
			}
			info.PrevCursor = prev
		}
	default: // Forward
		if hasMore {
			next, err := mint(last, cursor.Forward)
			if err != nil {
				return PageInfo{}, err
			}
			info.NextCursor = next
		}
		if hadCursor {
			prev, err := mint(first, cursor.Backward)
			if err != nil {
				return PageInfo{}, err
			}
			info.PrevCursor = prev
		}
	}

	return info, nil
}
