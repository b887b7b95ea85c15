package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
}

// TestServer is a PostgreSQL container that hands out one fresh database per
// call to NewDatabase.
type TestServer struct {
	dsn *url.URL
	seq atomic.Int64
}

func NewTestContainer(t Testing) *TestServer {
	ctx := t.Context()
	pgC, err := tcpostgres.Run(
		ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("chronicle"),
		tcpostgres.WithUsername("chronicle"),
		tcpostgres.WithPassword("chronicle"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	t.Logf("postgres dsn: %s", dsn)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	return &TestServer{dsn: u}
}

// DSN returns the connection string of the database created with the container.
func (s *TestServer) DSN() string { return s.dsn.String() }

// NewDatabase creates an empty database and returns its connection string.
func (s *TestServer) NewDatabase(t Testing) string {
	name := fmt.Sprintf("es_%d", s.seq.Add(1))

	connector, err := pq.NewConnector(s.DSN())
	require.NoError(t, err)
	db := sql.OpenDB(connector)
	defer func() { _ = db.Close() }()

	_, err = db.ExecContext(t.Context(), "CREATE DATABASE "+pq.QuoteIdentifier(name))
	require.NoError(t, err)

	u := *s.dsn
	u.Path = "/" + name
	return u.String()
}
