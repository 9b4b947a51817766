package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/oni/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsList(t *testing.T) {
	cfgPath := setupConfig(t, 5)

	out, err := run(t, cfgPath, "sessions", "list", "--guild", "g1", "--user", "u1")
	require.NoError(t, err)
	assert.Equal(t, "No saved sessions\n", out)

	_, err = run(t, cfgPath, "sessions", "create", "--guild", "g1", "--user", "u1", "--name", "work")
	require.NoError(t, err)
	_, err = run(t, cfgPath, "sessions", "create", "--guild", "g1", "--user", "u1", "--name", "notes")
	require.NoError(t, err)

	out, err = run(t, cfgPath, "sessions", "list", "--guild", "g1", "--user", "u1")
	require.NoError(t, err)
	assert.Equal(t, "notes\nwork\n", out)
}

func TestSessionsListRequiresKeyFlags(t *testing.T) {
	cfgPath := setupConfig(t, 5)

	_, err := run(t, cfgPath, "sessions", "list", "--guild", "g1")
	assert.Error(t, err)
}

func TestSessionsCreateEnforcesCap(t *testing.T) {
	cfgPath := setupConfig(t, 1)

	_, err := run(t, cfgPath, "sessions", "create", "--guild", "g1", "--user", "u1", "--name", "a")
	require.NoError(t, err)

	_, err = run(t, cfgPath, "sessions", "create", "--guild", "g1", "--user", "u1", "--name", "b")
	assert.ErrorIs(t, err, session.ErrLimitReached)

	_, err = run(t, cfgPath, "sessions", "create", "--guild", "g1", "--user", "u1", "--name", "a")
	assert.ErrorIs(t, err, session.ErrSessionExists)
}

func TestSessionsShowClearDelete(t *testing.T) {
	cfgPath := setupConfig(t, 5)

	_, err := run(t, cfgPath, "chat", "--guild", "g1", "--user", "u1", "hi", "there")
	require.NoError(t, err)

	out, err := run(t, cfgPath, "sessions", "show", "--guild", "g1", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, `"content": "hi there"`)
	assert.Contains(t, out, `"content": "`+modelReply+`"`)

	out, err = run(t, cfgPath, "sessions", "clear", "--guild", "g1", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, `Cleared session "default"`)

	out, err = run(t, cfgPath, "sessions", "show", "--guild", "g1", "--user", "u1")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	_, err = run(t, cfgPath, "sessions", "delete", "--guild", "g1", "--user", "u1")
	require.NoError(t, err)

	_, err = run(t, cfgPath, "sessions", "show", "--guild", "g1", "--user", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSessionsExportSingle(t *testing.T) {
	cfgPath := setupConfig(t, 5)

	_, err := run(t, cfgPath, "chat", "--guild", "g1", "--user", "u1", "hello")
	require.NoError(t, err)

	t.Run("stdout", func(t *testing.T) {
		out, err := run(t, cfgPath, "sessions", "export", "--user", "u1", "--name", "default")
		require.NoError(t, err)
		assert.Contains(t, out, `"content": "hello"`)
	})

	t.Run("file", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "default.json")
		_, err := run(t, cfgPath, "sessions", "export", "--user", "u1", "--name", "default", "--out", target)
		require.NoError(t, err)

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		got, err := session.ParseTranscript(data)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := run(t, cfgPath, "sessions", "export", "--user", "u1", "--name", "nope")
		assert.Error(t, err)
	})
}

func TestSessionsExportImportArchive(t *testing.T) {
	cfgPath := setupConfig(t, 5)

	_, err := run(t, cfgPath, "chat", "--guild", "g1", "--user", "u1", "first")
	require.NoError(t, err)
	_, err = run(t, cfgPath, "chat", "--guild", "g2", "--user", "u1", "second")
	require.NoError(t, err)
	_, err = run(t, cfgPath, "chat", "--guild", "g1", "--user", "u2", "other user")
	require.NoError(t, err)

	outDir := t.TempDir()
	out, err := run(t, cfgPath, "sessions", "export", "--user", "u1", "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 2 sessions")

	archives, err := filepath.Glob(filepath.Join(outDir, "sessions_u1_*.zip"))
	require.NoError(t, err)
	require.Len(t, archives, 1)

	_, err = run(t, cfgPath, "sessions", "delete", "--guild", "g1", "--user", "u1")
	require.NoError(t, err)
	_, err = run(t, cfgPath, "sessions", "delete", "--guild", "g2", "--user", "u1")
	require.NoError(t, err)

	// import into a fresh store
	fresh := setupConfig(t, 5)
	out, err = run(t, fresh, "sessions", "import", archives[0])
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 sessions (0 failed)")

	out, err = run(t, fresh, "sessions", "show", "--guild", "g2", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, `"content": "second"`)
}

func TestSessionsExportNothing(t *testing.T) {
	cfgPath := setupConfig(t, 5)

	_, err := run(t, cfgPath, "sessions", "export", "--out", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sessions")
}

func TestSessionsImportRejectsBadArchive(t *testing.T) {
	cfgPath := setupConfig(t, 5)
	bad := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0644))

	_, err := run(t, cfgPath, "sessions", "import", bad)
	assert.Error(t, err)
}
