package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func findUser(t *testing.T, db *gorm.DB, externalID string) User {
	t.Helper()
	var user User
	require.NoError(t, db.First(&user, "external_id = ?", externalID).Error)
	return user
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AutoMigrate(&User{}))
	users := NewUserRepository(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, users.EnsureUser(ctx, "sub-1", ""))
	require.NoError(t, users.EnsureUser(ctx, "sub-1", ""))

	var count int64
	require.NoError(t, db.Model(&User{}).Where("external_id = ?", "sub-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	assert.Nil(t, findUser(t, db, "sub-1").Email)
}

func TestEnsureUserRecordsEmail(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AutoMigrate(&User{}))
	users := NewUserRepository(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, users.EnsureUser(ctx, "sub-1", ""))
	require.NoError(t, users.EnsureUser(ctx, "sub-1", " patient@example.com "))

	got := findUser(t, db, "sub-1")
	require.NotNil(t, got.Email)
	assert.Equal(t, "patient@example.com", *got.Email)
}
