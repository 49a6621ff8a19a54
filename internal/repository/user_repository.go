package repository

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/oralscan/internal/logging"
	"github.com/example/oralscan/internal/retry"
)

// UserRepository records identities seen at the auth boundary.
type UserRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewUserRepository creates a new repository instance.
func NewUserRepository(db *gorm.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger.Named("user_repository")}
}

// EnsureUser creates the user on first sight and refreshes a changed email.
func (r *UserRepository) EnsureUser(ctx context.Context, externalID, email string) error {
	user := &User{ExternalID: externalID}
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}
	if email = strings.TrimSpace(email); email != "" {
		user.Email = &email
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email"}),
		}
	}

	return retry.Do(ctx, retry.Default, r.logger, "repository.ensure_user", logging.RequestID(ctx), nil, func() error {
		return r.db.WithContext(ctx).Clauses(onConflict).Create(user).Error
	})
}
