package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
nanoapps:
  - app_id: 0x0001
    name: heartbeat
    vendor: ctxhub
    is_system: true
    inbox_capacity: 8
    subscriptions: [100]
  - app_id: 0x0002
    name: echo
    vendor: ctxhub
    subscriptions: [200, 201]
`

func TestLoadParsesNanoapps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.Nanoapps, 2)

	assert.Equal(t, "heartbeat", m.Nanoapps[0].Name)
	assert.True(t, m.Nanoapps[0].IsSystem)
	assert.Equal(t, 8, m.Nanoapps[0].InboxCapacity)

	assert.Equal(t, 16, m.Nanoapps[1].InboxCapacity, "missing inbox_capacity defaults to 16")
	assert.Equal(t, []uint16{200, 201}, m.Nanoapps[1].Subscriptions)
}

func TestLoadRejectsMissingAppID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nanoapps:\n  - name: nope\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
