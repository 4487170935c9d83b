package database

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_AttachDetach(t *testing.T) {
	h := NewHandle(nil)
	assert.False(t, h.Configured())
	assert.Nil(t, h.DB())

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	prev := h.Set(db)
	assert.Nil(t, prev)
	assert.True(t, h.Configured())
	assert.Same(t, db, h.DB())

	mock.ExpectClose()
	require.NoError(t, h.Close())
	assert.False(t, h.Configured())
	assert.NoError(t, mock.ExpectationsWereMet())

	// closing an empty handle is a no-op
	assert.NoError(t, h.Close())
}
