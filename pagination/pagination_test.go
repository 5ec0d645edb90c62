package pagination_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/foundrykit/core/pagination"
	"github.com/foundrykit/core/query"
)

// pgPlaceholders rewrites pgx-style "$N" placeholders into the sqlite
// driver's positional "?" form; argument order is unchanged, so a blind
// left-to-right substitution is safe.
var pgPlaceholders = regexp.MustCompile(`\$\d+`)

func toSqlitePlaceholders(sql string) string { return pgPlaceholders.ReplaceAllString(sql, "?") }

type sqliteRows struct{ *sql.Rows }

// Close discards the underlying error, matching pgx.Rows' fire-and-forget
// Close signature that pagination.Rows requires.
func (r sqliteRows) Close() { r.Rows.Close() }

type sqliteConn struct{ db *sql.DB }

func (c sqliteConn) Query(ctx context.Context, q string, args ...any) (sqliteRows, error) {
	rows, err := c.db.QueryContext(ctx, toSqlitePlaceholders(q), args...)
	if err != nil {
		return sqliteRows{}, err
	}
	return sqliteRows{rows}, nil
}

type widget struct {
	ID    int64
	Name  string
	Score int64
}

func setupWidgets(t *testing.T) sqliteConn {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT, score INTEGER)`)
	require.NoError(t, err)

	rows := []widget{
		{1, "alpha", 10},
		{2, "bravo", 30},
		{3, "charlie", 20},
		{4, "delta", 30},
		{5, "echo", 5},
	}
	for _, w := range rows {
		_, err := db.Exec(`INSERT INTO widgets (id, name, score) VALUES (?, ?, ?)`, w.ID, w.Name, w.Score)
		require.NoError(t, err)
	}
	return sqliteConn{db: db}
}

func widgetFieldMap() *query.FieldMap {
	return query.NewFieldMap().
		InsertWithExtractor("id", query.Col("id"), query.KindI64, func(row query.Row) (string, bool) {
			v, ok := row.Value("id")
			if !ok {
				return "", false
			}
			return cursorFormatInt(v), true
		}).
		InsertWithExtractor("score", query.Col("score"), query.KindI64, func(row query.Row) (string, bool) {
			v, ok := row.Value("score")
			if !ok {
				return "", false
			}
			return cursorFormatInt(v), true
		}).
		Insert("name", query.Col("name"), query.KindString)
}

func cursorFormatInt(v any) string {
	switch n := v.(type) {
	case int64:
		return itoaHelper(n)
	case int:
		return itoaHelper(int64(n))
	default:
		return ""
	}
}

func itoaHelper(n int64) string {
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

func scanWidget(r sqliteRows) (pagination.Row[widget], error) {
	var w widget
	if err := r.Scan(&w.ID, &w.Name, &w.Score); err != nil {
		return pagination.Row[widget]{}, err
	}
	view := query.MapRow{"id": w.ID, "name": w.Name, "score": w.Score}
	return pagination.Row[widget]{Item: w, View: view}, nil
}

func names(page pagination.Page[widget]) []string {
	out := make([]string, len(page.Items))
	for i, w := range page.Items {
		out[i] = w.Name
	}
	return out
}

func TestPaginate_ForwardThenNext(t *testing.T) {
	conn := setupWidgets(t)
	fm := widgetFieldMap()
	limitCfg := pagination.LimitCfg{Default: 2, Max: 10}
	tie := pagination.Tiebreaker{Field: "id", Dir: query.Asc}

	req := pagination.Request{
		Order: query.OrderBy{{Field: "score", Dir: query.Asc}},
	}
	page1, err := pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req, fm, tie, limitCfg, scanWidget)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "alpha"}, names(page1))
	require.NotNil(t, page1.PageInfo.NextCursor)
	assert.Nil(t, page1.PageInfo.PrevCursor)

	req2 := pagination.Request{
		Order:  query.OrderBy{{Field: "score", Dir: query.Asc}},
		Cursor: *page1.PageInfo.NextCursor,
	}
	page2, err := pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req2, fm, tie, limitCfg, scanWidget)
	require.NoError(t, err)
	assert.Equal(t, []string{"charlie", "bravo"}, names(page2))
	require.NotNil(t, page2.PageInfo.NextCursor)
	require.NotNil(t, page2.PageInfo.PrevCursor)
}

func TestPaginate_BackwardFromPrevCursor(t *testing.T) {
	conn := setupWidgets(t)
	fm := widgetFieldMap()
	limitCfg := pagination.LimitCfg{Default: 2, Max: 10}
	tie := pagination.Tiebreaker{Field: "id", Dir: query.Asc}

	req := pagination.Request{Order: query.OrderBy{{Field: "score", Dir: query.Asc}}}
	page1, err := pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req, fm, tie, limitCfg, scanWidget)
	require.NoError(t, err)

	req2 := pagination.Request{Order: query.OrderBy{{Field: "score", Dir: query.Asc}}, Cursor: *page1.PageInfo.NextCursor}
	page2, err := pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req2, fm, tie, limitCfg, scanWidget)
	require.NoError(t, err)

	req3 := pagination.Request{Order: query.OrderBy{{Field: "score", Dir: query.Asc}}, Cursor: *page2.PageInfo.PrevCursor}
	back, err := pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req3, fm, tie, limitCfg, scanWidget)
	require.NoError(t, err)
	assert.Equal(t, names(page1), names(back))
}

func TestPaginate_FilterPlusPagination(t *testing.T) {
	conn := setupWidgets(t)
	fm := widgetFieldMap()
	limitCfg := pagination.LimitCfg{Default: 10, Max: 10}
	tie := pagination.Tiebreaker{Field: "id", Dir: query.Asc}

	req := pagination.Request{
		Filter: query.Compare(query.Ident("score"), query.OpGe, query.Lit(query.NumberValue("20"))),
		Order:  query.OrderBy{{Field: "id", Dir: query.Asc}},
	}
	page, err := pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req, fm, tie, limitCfg, scanWidget)
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo", "charlie", "delta"}, names(page))
	assert.Nil(t, page.PageInfo.NextCursor)
}

func TestPaginate_LimitClampedToMax(t *testing.T) {
	conn := setupWidgets(t)
	fm := widgetFieldMap()
	limitCfg := pagination.LimitCfg{Default: 2, Max: 3}
	tie := pagination.Tiebreaker{Field: "id", Dir: query.Asc}

	requested := uint64(100)
	req := pagination.Request{Order: query.OrderBy{{Field: "id", Dir: query.Asc}}, Limit: &requested}
	page, err := pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req, fm, tie, limitCfg, scanWidget)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), page.PageInfo.Limit)
	assert.Len(t, page.Items, 3)
}

func TestPaginate_FilterMismatchOnCursorReuse(t *testing.T) {
	conn := setupWidgets(t)
	fm := widgetFieldMap()
	limitCfg := pagination.LimitCfg{Default: 2, Max: 10}
	tie := pagination.Tiebreaker{Field: "id", Dir: query.Asc}

	req := pagination.Request{
		Filter: query.Compare(query.Ident("score"), query.OpGe, query.Lit(query.NumberValue("20"))),
		Order:  query.OrderBy{{Field: "id", Dir: query.Asc}},
	}
	page1, err := pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req, fm, tie, limitCfg, scanWidget)
	require.NoError(t, err)
	require.NotNil(t, page1.PageInfo.NextCursor)

	req2 := pagination.Request{
		Filter: query.Compare(query.Ident("score"), query.OpGe, query.Lit(query.NumberValue("25"))),
		Order:  query.OrderBy{{Field: "id", Dir: query.Asc}},
		Cursor: *page1.PageInfo.NextCursor,
	}
	_, err = pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req2, fm, tie, limitCfg, scanWidget)
	assert.ErrorIs(t, err, pagination.ErrFilterMismatch)
}

func TestPaginate_InvalidOrderByField(t *testing.T) {
	conn := setupWidgets(t)
	fm := widgetFieldMap()
	limitCfg := pagination.LimitCfg{Default: 2, Max: 10}
	tie := pagination.Tiebreaker{Field: "id", Dir: query.Asc}

	req := pagination.Request{Order: query.OrderBy{{Field: "nonexistent", Dir: query.Asc}}}
	_, err := pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req, fm, tie, limitCfg, scanWidget)
	assert.ErrorIs(t, err, pagination.ErrInvalidOrderByField)
}

func TestPaginate_InvalidFilter(t *testing.T) {
	conn := setupWidgets(t)
	fm := widgetFieldMap()
	limitCfg := pagination.LimitCfg{Default: 2, Max: 10}
	tie := pagination.Tiebreaker{Field: "id", Dir: query.Asc}

	req := pagination.Request{Filter: query.Compare(query.Ident("unknown"), query.OpEq, query.Lit(query.StringValue("x")))}
	_, err := pagination.Paginate[widget](context.Background(), conn, "SELECT id, name, score FROM widgets", req, fm, tie, limitCfg, scanWidget)
	var invalid *pagination.InvalidFilterError
	assert.ErrorAs(t, err, &invalid)
}
