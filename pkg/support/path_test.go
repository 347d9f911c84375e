package support

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPath(t *testing.T) {
	logPath, statePath, err := CheckPath()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(logPath))
	assert.True(t, filepath.IsAbs(statePath))
	assert.Equal(t, "bizfly-folder-backup.log", filepath.Base(logPath))
	assert.Equal(t, "schedule.json", filepath.Base(statePath))
}
