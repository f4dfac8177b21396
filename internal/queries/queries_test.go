package queries

import (
	"context"
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// fakeSession/fakeQuery/fakeIter implement the Session/Query/Iter
// interfaces entirely in memory, so the queries layer can be exercised
// without a live Cassandra/Scylla cluster.
type fakeSession struct {
	queries []recordedQuery
	scanner func(stmt string, values []any, dest []any) error
	rows    map[string][][]any
}

type recordedQuery struct {
	stmt        string
	values      []any
	consistency gocql.Consistency
}

func (f *fakeSession) Query(stmt string, values ...any) Query {
	return &fakeQuery{session: f, stmt: stmt, values: values}
}

func (f *fakeSession) Close() {}

type fakeQuery struct {
	session     *fakeSession
	stmt        string
	values      []any
	consistency gocql.Consistency
}

func (q *fakeQuery) WithContext(ctx context.Context) Query { return q }

func (q *fakeQuery) Consistency(c gocql.Consistency) Query {
	q.consistency = c
	return q
}

func (q *fakeQuery) Exec() error {
	q.session.queries = append(q.session.queries, recordedQuery{q.stmt, q.values, q.consistency})
	return nil
}

func (q *fakeQuery) Scan(dest ...any) error {
	q.session.queries = append(q.session.queries, recordedQuery{q.stmt, q.values, q.consistency})
	if q.session.scanner != nil {
		return q.session.scanner(q.stmt, q.values, dest)
	}
	return gocql.ErrNotFound
}

func (q *fakeQuery) Iter() Iter {
	q.session.queries = append(q.session.queries, recordedQuery{q.stmt, q.values, q.consistency})
	rows := q.session.rows[q.stmt]
	return &fakeIter{rows: rows}
}

type fakeIter struct {
	rows [][]any
	pos  int
}

func (it *fakeIter) Scan(dest ...any) bool {
	if it.pos >= len(it.rows) {
		return false
	}
	row := it.rows[it.pos]
	it.pos++
	for i, d := range dest {
		if i >= len(row) {
			continue
		}
		assignInto(d, row[i])
	}
	return true
}

func (it *fakeIter) Close() error { return nil }

// assignInto copies src into the pointer dest points to, for the handful of
// concrete types this package's Scan calls use.
func assignInto(dest, src any) {
	switch d := dest.(type) {
	case *string:
		*d = src.(string)
	case *int:
		*d = src.(int)
	case *int64:
		*d = src.(int64)
	case *bool:
		*d = src.(bool)
	case *any:
		*d = src
	case *[]byte:
		*d = src.([]byte)
	case *map[string]int:
		*d = src.(map[string]int)
	}
}

func TestDataConsistency(t *testing.T) {
	assert.Equal(t, gocql.Quorum, DataConsistency(model.InterfaceTypeProperties, model.ReliabilityUnreliable, model.RetentionDiscard))
	assert.Equal(t, gocql.LocalQuorum, DataConsistency(model.InterfaceTypeDatastream, model.ReliabilityGuaranteed, model.RetentionStored))
	assert.Equal(t, gocql.Any, DataConsistency(model.InterfaceTypeDatastream, model.ReliabilityUnreliable, model.RetentionDiscard))
	assert.Equal(t, gocql.One, DataConsistency(model.InterfaceTypeDatastream, model.ReliabilityGuaranteed, model.RetentionDiscard))
}

func TestPathConsistency(t *testing.T) {
	assert.Equal(t, gocql.One, PathConsistency(model.ReliabilityUnreliable))
	assert.Equal(t, gocql.LocalQuorum, PathConsistency(model.ReliabilityGuaranteed))
}

func TestUpsertProperty_DeletesOnNilWhenAllowUnset(t *testing.T) {
	fs := &fakeSession{}
	store := NewStore(fs)

	var deviceID model.DeviceID
	err := store.UpsertProperty(context.Background(), "individual_properties", deviceID, [16]byte{1}, [16]byte{2}, "/p", 1000, nil, true)
	require.NoError(t, err)

	require.Len(t, fs.queries, 1)
	assert.Contains(t, fs.queries[0].stmt, "DELETE FROM individual_properties")
}

func TestUpsertProperty_SkipsWhenNilAndNotAllowUnset(t *testing.T) {
	fs := &fakeSession{}
	store := NewStore(fs)

	var deviceID model.DeviceID
	err := store.UpsertProperty(context.Background(), "individual_properties", deviceID, [16]byte{1}, [16]byte{2}, "/p", 1000, nil, false)
	require.NoError(t, err)
	assert.Empty(t, fs.queries)
}

func TestUpsertProperty_InsertsWhenValuePresent(t *testing.T) {
	fs := &fakeSession{}
	store := NewStore(fs)

	var deviceID model.DeviceID
	err := store.UpsertProperty(context.Background(), "individual_properties", deviceID, [16]byte{1}, [16]byte{2}, "/p", 1000, int32(42), true)
	require.NoError(t, err)
	require.Len(t, fs.queries, 1)
	assert.Contains(t, fs.queries[0].stmt, "INSERT INTO individual_properties")
	assert.Equal(t, gocql.Quorum, fs.queries[0].consistency)
}

func TestGetDevice_NotFoundReturnsNilRow(t *testing.T) {
	fs := &fakeSession{}
	store := NewStore(fs)

	row, err := store.GetDevice(context.Background(), model.DeviceID{})
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestFetchProperties_IteratesRows(t *testing.T) {
	stmt := `SELECT path, value FROM individual_properties WHERE device_id = ? AND interface_id = ?`
	fs := &fakeSession{rows: map[string][][]any{
		stmt: {
			{"/p", any(int32(1))},
			{"/q", any(int32(2))},
		},
	}}
	store := NewStore(fs)

	rows, err := store.FetchProperties(context.Background(), "individual_properties", model.DeviceID{}, [16]byte{1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "/p", rows[0].Path)
	assert.Equal(t, "/q", rows[1].Path)
}
