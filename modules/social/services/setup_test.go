package services_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/perch-social/perch/modules/social/infrastructure/persistence"
	"github.com/perch-social/perch/modules/social/services"
	"github.com/perch-social/perch/pkg/composables"
	"github.com/perch-social/perch/pkg/configuration"
	"github.com/perch-social/perch/pkg/eventbus"
	"github.com/perch-social/perch/pkg/logging"
	"github.com/perch-social/perch/pkg/queue"
)

func isCIEnv() bool {
	return strings.TrimSpace(os.Getenv("CI")) != "" ||
		strings.EqualFold(strings.TrimSpace(os.Getenv("GITHUB_ACTIONS")), "true")
}

func newSocialTestDB(tb testing.TB, ctx context.Context, isCI bool) *pgxpool.Pool {
	tb.Helper()

	conf := configuration.Use()
	host := strings.TrimSpace(conf.Database.Host)
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(conf.Database.Port)
	if port == "" {
		port = "5432"
	}
	user := strings.TrimSpace(conf.Database.User)
	if user == "" {
		user = "postgres"
	}
	password := conf.Database.Password

	// Connect to the postgres database to create a fresh DB for this test.
	adminDSN := "postgres://" + user + ":" + password + "@" + host + ":" + port + "/postgres?sslmode=disable"
	adminConn, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		if isCI {
			require.NoError(tb, err)
		}
		tb.Skip("postgres is not reachable; skipping integration test")
	}
	tb.Cleanup(func() { _ = adminConn.Close(ctx) })

	dbName := "perch_" + strings.ToLower(strings.ReplaceAll(tb.Name(), "/", "_"))
	dbName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, dbName)

	_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	_, err = adminConn.Exec(ctx, "CREATE DATABASE "+dbName)
	if err != nil {
		if isCI {
			require.NoError(tb, err)
		}
		tb.Skip("failed to create test database; skipping integration test")
	}

	pool, err := pgxpool.New(ctx, "postgres://"+user+":"+password+"@"+host+":"+port+"/"+dbName+"?sslmode=disable")
	require.NoError(tb, err)

	schema, err := os.ReadFile(filepath.Join("..", "infrastructure", "persistence", "schema", "social-schema.sql"))
	require.NoError(tb, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(tb, err)

	tb.Cleanup(func() {
		pool.Close()
		_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	})

	return pool
}

func seedAccount(tb testing.TB, ctx context.Context, pool *pgxpool.Pool, acct string) uuid.UUID {
	tb.Helper()

	username := acct
	var domain *string
	if i := strings.IndexByte(acct, '@'); i >= 0 {
		username = acct[:i]
		d := acct[i+1:]
		domain = &d
	}
	id := uuid.New()
	_, err := pool.Exec(ctx,
		`INSERT INTO accounts (id, username, domain, acct) VALUES ($1, $2, $3, $4)`,
		id, username, domain, acct,
	)
	require.NoError(tb, err)
	return id
}

func seedStatus(tb testing.TB, ctx context.Context, pool *pgxpool.Pool, authorID uuid.UUID, uri string) uuid.UUID {
	tb.Helper()

	id := uuid.New()
	_, err := pool.Exec(ctx,
		`INSERT INTO statuses (id, account_id, uri) VALUES ($1, $2, $3)`,
		id, authorID, uri,
	)
	require.NoError(tb, err)
	return id
}

func requestCtx(pool *pgxpool.Pool, accountID uuid.UUID) context.Context {
	ctx := composables.WithPool(context.Background(), pool)
	return composables.WithAccountID(ctx, accountID)
}

func newImportFixture(pool *pgxpool.Pool) (*services.ImportService, *services.ImportProcessor) {
	repo := persistence.NewImportRepository()
	graph := persistence.NewRelationshipRepository()
	bus := eventbus.NewEventPublisher(logrus.New())
	svc := services.NewImportService(repo, queue.NewPublisher(), bus, services.ImportServiceConfig{})
	proc := services.NewImportProcessor(pool, repo, graph, bus, logging.Nop())
	return svc, proc
}

func countRows(tb testing.TB, ctx context.Context, pool *pgxpool.Pool, query string, args ...any) int {
	tb.Helper()

	var n int
	require.NoError(tb, pool.QueryRow(ctx, query, args...).Scan(&n))
	return n
}
