// Package queries is the logical database layer spec.md §4 and §6 describe:
// introspection read/update, the old-introspection bag, property insert/
// delete/fetch, datastream append with TTL, the path registry, simple-
// trigger lookup, the devices-by-interface registry and connect/disconnect
// stats — plus a Redis read-through cache fronting interface-descriptor
// lookups. Only the gocql.Session/Query/Iter methods this package actually
// calls are abstracted behind interfaces, so the whole layer can be driven
// against a fake in tests without a live Cassandra/Scylla cluster.
package queries

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// Session is the subset of *gocql.Session this package depends on.
type Session interface {
	Query(stmt string, values ...any) Query
	Close()
}

// Query is the subset of *gocql.Query this package depends on.
type Query interface {
	WithContext(ctx context.Context) Query
	Consistency(c gocql.Consistency) Query
	Exec() error
	Scan(dest ...any) error
	Iter() Iter
}

// Iter is the subset of *gocql.Iter this package depends on.
type Iter interface {
	Scan(dest ...any) bool
	Close() error
}

// gocqlSession adapts *gocql.Session to Session.
type gocqlSession struct{ s *gocql.Session }

// NewSession dials a gocql cluster the way the pack's own Cassandra
// scaler does: a configured consistency default, a keyspace, and one pooled
// session reused for every operation.
func NewSession(hosts []string, keyspace string, consistency gocql.Consistency) (Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = consistency
	cluster.Timeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("queries: create session: %w", err)
	}
	return &gocqlSession{s: session}, nil
}

func (g *gocqlSession) Query(stmt string, values ...any) Query {
	return &gocqlQuery{q: g.s.Query(stmt, values...)}
}

func (g *gocqlSession) Close() { g.s.Close() }

type gocqlQuery struct{ q *gocql.Query }

func (g *gocqlQuery) WithContext(ctx context.Context) Query {
	return &gocqlQuery{q: g.q.WithContext(ctx)}
}

func (g *gocqlQuery) Consistency(c gocql.Consistency) Query {
	return &gocqlQuery{q: g.q.Consistency(c)}
}

func (g *gocqlQuery) Exec() error             { return g.q.Exec() }
func (g *gocqlQuery) Scan(dest ...any) error  { return g.q.Scan(dest...) }
func (g *gocqlQuery) Iter() Iter              { return &gocqlIter{it: g.q.Iter()} }

type gocqlIter struct{ it *gocql.Iter }

func (g *gocqlIter) Scan(dest ...any) bool { return g.it.Scan(dest...) }
func (g *gocqlIter) Close() error          { return g.it.Close() }
