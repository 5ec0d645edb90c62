package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundrykit/core/query"
)

func TestOrderBy_TokensRoundTrip(t *testing.T) {
	order := query.OrderBy{
		{Field: "score", Dir: query.Desc},
		{Field: "id", Dir: query.Asc},
	}
	assert.Equal(t, "-score,+id", order.Tokens())

	parsed, err := query.ParseOrderTokens(order.Tokens())
	require.NoError(t, err)
	assert.Equal(t, order, parsed)
}

func TestParseOrderTokens_Empty(t *testing.T) {
	parsed, err := query.ParseOrderTokens("")
	require.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestParseOrderTokens_Invalid(t *testing.T) {
	_, err := query.ParseOrderTokens("score")
	assert.Error(t, err)

	_, err = query.ParseOrderTokens("*score")
	assert.Error(t, err)
}

func TestOrderBy_HasField(t *testing.T) {
	order := query.OrderBy{{Field: "Score", Dir: query.Asc}}
	assert.True(t, order.HasField("score"))
	assert.True(t, order.HasField("SCORE"))
	assert.False(t, order.HasField("id"))
}

func TestOrderBy_EnsureTiebreaker(t *testing.T) {
	order := query.OrderBy{{Field: "score", Dir: query.Desc}}

	withTie := order.EnsureTiebreaker("id", query.Asc)
	require.Len(t, withTie, 2)
	assert.Equal(t, "id", withTie[1].Field)

	// already present: no-op
	already := query.OrderBy{{Field: "score", Dir: query.Desc}, {Field: "id", Dir: query.Asc}}
	assert.Equal(t, already, already.EnsureTiebreaker("id", query.Desc))
}

func TestOrderBy_Reversed(t *testing.T) {
	order := query.OrderBy{
		{Field: "score", Dir: query.Desc},
		{Field: "id", Dir: query.Asc},
	}
	rev := order.Reversed()
	assert.Equal(t, query.Desc, order[0].Dir)
	assert.Equal(t, query.Asc, rev[0].Dir)
	assert.Equal(t, query.Desc, rev[1].Dir)
	// original untouched
	assert.Equal(t, query.Asc, order[1].Dir)
}

func TestCompareOp_String(t *testing.T) {
	cases := map[query.CompareOp]string{
		query.OpEq: "eq",
		query.OpNe: "ne",
		query.OpGt: "gt",
		query.OpGe: "ge",
		query.OpLt: "lt",
		query.OpLe: "le",
	}
	for op, want := range cases {
		assert.Equal(t, want, op.String())
	}
}
