package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-social/perch/modules/social/infrastructure/persistence"
	"github.com/perch-social/perch/modules/social/presentation/controllers"
	"github.com/perch-social/perch/modules/social/services"
	"github.com/perch-social/perch/pkg/configuration"
	"github.com/perch-social/perch/pkg/eventbus"
	"github.com/perch-social/perch/pkg/middleware"
	"github.com/perch-social/perch/pkg/queue"
)

func newControllerTestDB(tb testing.TB, ctx context.Context) *pgxpool.Pool {
	tb.Helper()

	isCI := strings.TrimSpace(os.Getenv("CI")) != "" ||
		strings.EqualFold(strings.TrimSpace(os.Getenv("GITHUB_ACTIONS")), "true")

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

	schema, err := os.ReadFile(filepath.Join("..", "..", "infrastructure", "persistence", "schema", "social-schema.sql"))
	require.NoError(tb, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(tb, err)

	tb.Cleanup(func() {
		pool.Close()
		_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	})

	return pool
}

func newTestServer(tb testing.TB, pool *pgxpool.Pool) *httptest.Server {
	tb.Helper()

	repo := persistence.NewImportRepository()
	bus := eventbus.NewEventPublisher(logrus.New())
	svc := services.NewImportService(repo, queue.NewPublisher(), bus, services.ImportServiceConfig{})

	router := mux.NewRouter()
	router.Use(middleware.WithPool(pool))
	controllers.NewImportsController(svc, 1<<20).Register(router)

	srv := httptest.NewServer(router)
	tb.Cleanup(srv.Close)
	return srv
}

func multipartUpload(tb testing.TB, kind, mode string, payload []byte) (*bytes.Buffer, string) {
	tb.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(tb, mw.WriteField("type", kind))
	if mode != "" {
		require.NoError(tb, mw.WriteField("mode", mode))
	}
	part, err := mw.CreateFormFile("data", "upload.csv")
	require.NoError(tb, err)
	_, err = part.Write(payload)
	require.NoError(tb, err)
	require.NoError(tb, mw.Close())
	return body, mw.FormDataContentType()
}

func doRequest(tb testing.TB, method, url string, body io.Reader, contentType string, accountID uuid.UUID) *http.Response {
	tb.Helper()

	req, err := http.NewRequest(method, url, body)
	require.NoError(tb, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accountID != uuid.Nil {
		req.Header.Set(middleware.AccountHeader, accountID.String())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func seedHTTPAccount(tb testing.TB, ctx context.Context, pool *pgxpool.Pool, acct string) uuid.UUID {
	tb.Helper()

	id := uuid.New()
	_, err := pool.Exec(ctx,
		`INSERT INTO accounts (id, username, acct) VALUES ($1, $2, $3)`, id, acct, acct)
	require.NoError(tb, err)
	return id
}

func TestImportsController_UploadFlow(t *testing.T) {
	ctx := context.Background()
	pool := newControllerTestDB(t, ctx)
	owner := seedHTTPAccount(t, ctx, pool, "owner")
	seedHTTPAccount(t, ctx, pool, "foo@bar.example")
	srv := newTestServer(t, pool)

	body, contentType := multipartUpload(t, "blocking", "", []byte("foo@bar.example\n"))
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/imports", body, contentType, owner)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Mode  string `json:"mode"`
		State string `json:"state"`
		Total int    `json:"total_items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "blocking", created.Type)
	assert.Equal(t, "merge", created.Mode)
	assert.Equal(t, "unconfirmed", created.State)
	assert.Equal(t, 1, created.Total)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/imports", nil, "", owner)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "private, no-store", resp.Header.Get("Cache-Control"))

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/imports/"+created.ID, nil, "", owner)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/imports/"+created.ID+"/confirm", nil, "", owner)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Confirmed imports leave the review flow.
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/imports/"+created.ID, nil, "", owner)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/imports/"+created.ID+"/failures", nil, "", owner)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "failed_imports.csv")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "foo@bar.example\n", string(data))
}

func TestImportsController_RejectsValidationErrors(t *testing.T) {
	ctx := context.Background()
	pool := newControllerTestDB(t, ctx)
	owner := seedHTTPAccount(t, ctx, pool, "owner")
	srv := newTestServer(t, pool)

	body, contentType := multipartUpload(t, "nonsense", "", []byte("foo@bar.example\n"))
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/imports", body, contentType, owner)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body, contentType = multipartUpload(t, "blocking", "", []byte("\n"))
	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/imports", body, contentType, owner)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var envelope struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "IMPORT_EMPTY", envelope.Code)
}

func TestImportsController_RequiresAccount(t *testing.T) {
	ctx := context.Background()
	pool := newControllerTestDB(t, ctx)
	srv := newTestServer(t, pool)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/imports", nil, "", uuid.Nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/imports", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.AccountHeader, "not-a-uuid")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp2.Body.Close() })
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}
