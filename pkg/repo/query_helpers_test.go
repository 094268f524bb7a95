package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsert(t *testing.T) {
	q := Insert("bulk_imports", []string{"id", "account_id"}, "id")
	assert.Equal(t, "INSERT INTO bulk_imports (id, account_id) VALUES ($1, $2) RETURNING id", q)
}

func TestUpdate(t *testing.T) {
	q := Update("bulk_imports", []string{"state", "updated_at"}, "id = $3")
	assert.Equal(t, "UPDATE bulk_imports SET state = $1, updated_at = $2 WHERE id = $3", q)
}

func TestJoinWhere(t *testing.T) {
	assert.Equal(t, "", JoinWhere())
	assert.Equal(t, "WHERE a = $1 AND b = $2", JoinWhere("a = $1", "b = $2"))
}

func TestFormatLimitOffset(t *testing.T) {
	assert.Equal(t, "", FormatLimitOffset(0, 0))
	assert.Equal(t, "LIMIT 10", FormatLimitOffset(10, 0))
	assert.Equal(t, "LIMIT 10 OFFSET 5", FormatLimitOffset(10, 5))
}

func TestBatchInsertQueryN(t *testing.T) {
	base := "INSERT INTO bulk_import_rows (import_id, position) VALUES"
	q, args := BatchInsertQueryN(base, [][]interface{}{
		{"a", 0},
		{"b", 1},
	})
	require.Equal(t, base+" ($1, $2), ($3, $4)", q)
	require.Equal(t, []interface{}{"a", 0, "b", 1}, args)
}
