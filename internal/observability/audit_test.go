package observability

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAuditLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var events []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var event map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		events = append(events, event)
	}
	return events
}

func TestAuditLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(DisableAuditLogger)

	ctx := context.Background()
	RecordSessionAudit(ctx, "session.create", "g1/u1", "success", map[string]interface{}{"name": "default"})
	RecordExportAudit(ctx, "export.all", "", map[string]interface{}{"count": 3})
	RecordConfigAudit(ctx, "config.reload", nil)
	require.NoError(t, GetAuditLogger().Close())

	events := readAuditLines(t, path)
	require.Len(t, events, 3)

	assert.Equal(t, "session", events[0]["type"])
	assert.Equal(t, "session.create", events[0]["action"])
	assert.Equal(t, "g1/u1", events[0]["actor"])
	assert.Equal(t, "success", events[0]["status"])
	assert.Equal(t, map[string]interface{}{"name": "default"}, events[0]["metadata"])

	assert.Equal(t, "export", events[1]["type"])
	assert.Equal(t, float64(3), events[1]["metadata"].(map[string]interface{})["count"])

	assert.Equal(t, "config", events[2]["type"])
	assert.NotContains(t, events[2], "metadata")
}

func TestDisableAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))

	DisableAuditLogger()
	RecordSessionAudit(context.Background(), "session.delete", "g1/u1", "success", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.NoError(t, GetAuditLogger().Close())
}

func TestInitAuditLoggerBadPath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := InitAuditLogger(filepath.Join(blocker, "audit.log"))
	assert.Error(t, err)
}
