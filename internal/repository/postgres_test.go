package repository

import (
	"io/fs"
	"strconv"
	"strings"
	"testing"

	progressmate "github.com/set-night/progressmate"
	"github.com/set-night/progressmate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresListMessagesHasDeterministicOrder(t *testing.T) {
	assert.True(t, strings.HasSuffix(pgListMessagesQuery, "ORDER BY created_at ASC, seq ASC"))

	up, err := fs.ReadFile(progressmate.MigrationsFS, "migrations/000002_message_seq.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "ADD COLUMN IF NOT EXISTS seq BIGSERIAL")
	assert.Contains(t, string(up), "(session_id, created_at, seq)")
}

func TestMigrationsBoundCadence(t *testing.T) {
	up, err := fs.ReadFile(progressmate.MigrationsFS, "migrations/000002_message_seq.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "cadence_minutes <= "+strconv.Itoa(config.MaxCadenceMinutes))
}
