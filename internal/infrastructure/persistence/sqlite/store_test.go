package sqlite

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/persistence/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) command.Store {
		s, err := Open(Config{Path: filepath.Join(t.TempDir(), "hub.db")})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestConfig_DSN(t *testing.T) {
	dsn := Config{Path: "/var/lib/hub.db"}.DSN()
	assert.True(t, strings.HasPrefix(dsn, "file:/var/lib/hub.db?"))
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "_busy_timeout=5000")

	dsn = Config{Path: "hub.db", BusyTimeout: 250 * time.Millisecond}.DSN()
	assert.Contains(t, dsn, "_busy_timeout=250")
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.db")

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// повторная миграция существующего файла
	s, err = Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
