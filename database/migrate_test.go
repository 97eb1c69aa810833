package database

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"terminalconnect-backend/models"
)

func TestMigrateIsRepeatable(t *testing.T) {
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	m := db.Migrator()
	assert.True(t, m.HasTable(&models.Postback{}))
	assert.True(t, m.HasTable(&models.IdempotencyKey{}))
	assert.True(t, m.HasIndex(&models.Postback{}, "idx_postbacks_owner_received"))
	assert.True(t, m.HasIndex(&models.Postback{}, "idx_postbacks_owner_intent"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "x")
	assert.Error(t, err)
}

type recordingWriter struct{ lines []string }

func (w *recordingWriter) Printf(format string, args ...interface{}) {
	w.lines = append(w.lines, fmt.Sprintf(format, args...))
}

func TestMissingRowIsNotLogged(t *testing.T) {
	rec := &recordingWriter{}
	prev := logWriter
	logWriter = rec
	defer func() { logWriter = prev }()

	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	var key models.IdempotencyKey
	err = db.Where("owner_id = ? AND key = ?", "anon", "missing").First(&key).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, rec.lines)

	err = db.Exec("SELECT * FROM no_such_table").Error
	require.Error(t, err)
	assert.NotEmpty(t, rec.lines)
}
