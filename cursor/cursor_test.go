package cursor_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundrykit/core/cursor"
	"github.com/foundrykit/core/query"
)

func TestCursor_EncodeDecodeRoundTrip(t *testing.T) {
	c := cursor.Cursor{
		Keys:       []string{"42", "abc"},
		PrimaryDir: query.Desc,
		Order:      "-score,+id",
		FilterHash: "deadbeef",
		Direction:  cursor.Forward,
	}
	tok, err := c.Encode()
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	decoded, err := cursor.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}

func TestDecode_InvalidBase64(t *testing.T) {
	_, err := cursor.Decode("not base64url!!")
	assert.Error(t, err)
}

func TestDecode_KeyCountMismatch(t *testing.T) {
	c := cursor.Cursor{Keys: []string{"only-one"}, Order: "-score,+id"}
	tok, err := c.Encode()
	require.NoError(t, err)
	_, err = cursor.Decode(tok)
	assert.Error(t, err)
}

func TestCursor_EffectiveOrder(t *testing.T) {
	c := cursor.Cursor{Order: "-score,+id"}
	order, err := c.EffectiveOrder()
	require.NoError(t, err)
	assert.Equal(t, query.OrderBy{
		{Field: "score", Dir: query.Desc},
		{Field: "id", Dir: query.Asc},
	}, order)
}

func TestFilterHash_SameInputsMatch(t *testing.T) {
	p1 := query.Predicate{SQL: "age > ?", Args: []any{21}}
	p2 := query.Predicate{SQL: "age > ?", Args: []any{21}}
	p3 := query.Predicate{SQL: "age > ?", Args: []any{30}}

	assert.Equal(t, cursor.FilterHash(p1), cursor.FilterHash(p2))
	assert.NotEqual(t, cursor.FilterHash(p1), cursor.FilterHash(p3))
}

func TestCheckFilterConsistency(t *testing.T) {
	assert.NoError(t, cursor.CheckFilterConsistency("", ""))
	assert.NoError(t, cursor.CheckFilterConsistency("abc", ""))
	assert.NoError(t, cursor.CheckFilterConsistency("", "abc"))
	assert.NoError(t, cursor.CheckFilterConsistency("abc", "abc"))
	assert.ErrorIs(t, cursor.CheckFilterConsistency("abc", "def"), cursor.ErrFilterMismatch)
}

func TestBuildForModel(t *testing.T) {
	fm := query.NewFieldMap().InsertWithExtractor("id", query.Col("id"), query.KindI64, func(row query.Row) (string, bool) {
		v, ok := row.Value("id")
		if !ok {
			return "", false
		}
		return v.(string), true
	})
	order := query.OrderBy{{Field: "id", Dir: query.Asc}}
	row := query.MapRow{"id": "7"}

	c, err := cursor.BuildForModel(row, order, fm, query.Asc, "hash1", cursor.Forward)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, c.Keys)
	assert.Equal(t, "+id", c.Order)
	assert.Equal(t, "hash1", c.FilterHash)
	assert.Equal(t, cursor.Forward, c.Direction)
}

func TestBuildForModel_MissingExtractor(t *testing.T) {
	fm := query.NewFieldMap().Insert("id", query.Col("id"), query.KindI64)
	order := query.OrderBy{{Field: "id", Dir: query.Asc}}

	_, err := cursor.BuildForModel(query.MapRow{"id": "7"}, order, fm, query.Asc, "", cursor.Forward)
	var missing *cursor.ErrMissingExtractor
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "id", missing.Field)
}

func TestParseValue(t *testing.T) {
	v, err := cursor.ParseValue(query.KindI64, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = cursor.ParseValue(query.KindI64, "nope")
	assert.Error(t, err)

	v, err = cursor.ParseValue(query.KindBool, "true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	u := uuid.New()
	v, err = cursor.ParseValue(query.KindUuid, u.String())
	require.NoError(t, err)
	assert.Equal(t, u, v)

	now := time.Now().UTC().Truncate(time.Second)
	v, err = cursor.ParseValue(query.KindDateTimeUtc, now.Format(time.RFC3339Nano))
	require.NoError(t, err)
	assert.True(t, now.Equal(v.(time.Time)))

	v, err = cursor.ParseValue(query.KindDecimal, "12.340")
	require.NoError(t, err)
	assert.Equal(t, "12.340", v)

	_, err = cursor.ParseValue(query.KindDecimal, "12.3.4")
	assert.Error(t, err)
}
