package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEnv(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, ".env.local"), []byte("PERCH_TEST_ENV_LOAD=ok\n"), 0o644))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(tmp))

	_ = os.Unsetenv("PERCH_TEST_ENV_LOAD")

	n, err := LoadEnv([]string{".env", ".env.local"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "ok", os.Getenv("PERCH_TEST_ENV_LOAD"))
}

func TestDatabaseOptionsConnectionString(t *testing.T) {
	opts := DatabaseOptions{
		Name:     "perch_test",
		Host:     "db",
		Port:     "5433",
		User:     "perch",
		Password: "secret",
	}
	require.Equal(
		t,
		"host=db port=5433 user=perch dbname=perch_test password=secret sslmode=disable",
		opts.ConnectionString(),
	)
}
