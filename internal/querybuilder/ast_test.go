package querybuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsRebindPanics(t *testing.T) {
	p := NewParams()
	p.Set("a", 1)
	assert.Panics(t, func() { p.Set("a", 2) })
}

func TestRenderPositionalOrder(t *testing.T) {
	p := NewParams()
	p.Set("first", "x")
	p.Set("second", 2)

	stmt, err := Render("SELECT * FROM t WHERE a = :first AND b = :second", p)
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", stmt.SQL)
	assert.Equal(t, []any{"x", 2}, stmt.Args)
}

func TestRenderRepeatedNameSharesArgument(t *testing.T) {
	p := NewParams()
	p.Set("v", 42)

	stmt, err := Render("SELECT :v, :v", p)
	require.NoError(t, err)

	assert.Equal(t, "SELECT $1, $1", stmt.SQL)
	assert.Equal(t, []any{42}, stmt.Args)
}

func TestRenderLeavesCastsAlone(t *testing.T) {
	p := NewParams()
	p.Set("id", "7")

	stmt, err := Render("SELECT id::text FROM t WHERE id::text = :id", p)
	require.NoError(t, err)

	assert.Equal(t, "SELECT id::text FROM t WHERE id::text = $1", stmt.SQL)
}

func TestRenderUnboundPlaceholder(t *testing.T) {
	_, err := Render("SELECT :nope", NewParams())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestConditionSetWhere(t *testing.T) {
	cs := NewConditionSet(NewParams())
	assert.Equal(t, "TRUE", cs.Where("entity"))

	cs.Add("entity", "a = 1")
	cs.Add("entity", "b = 2")
	assert.Equal(t, "a = 1 AND b = 2", cs.Where("entity"))
}
