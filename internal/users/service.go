package users

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidUserID indicates the supplied identifier is unusable.
var ErrInvalidUserID = errors.New("users: invalid user id")

// ReputationBootstrap creates the zero-score ledger entry for a new user.
type ReputationBootstrap interface {
	Ensure(ctx context.Context, userID string) error
}

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database   *gorm.DB
	Reputation ReputationBootstrap
}

// Service manages account rows and first-seen bootstrap.
type Service struct {
	db         *gorm.DB
	reputation ReputationBootstrap
	seen       sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.Reputation == nil {
		return nil, fmt.Errorf("users: reputation bootstrap required")
	}
	return &Service{
		db:         cfg.Database,
		reputation: cfg.Reputation,
	}, nil
}

// EnsureAccount creates the account row and its zero reputation entry the
// first time a user identifier is seen. Repeat calls refresh the display
// name when a non-empty one is supplied. The insert rides an upsert no-op so
// concurrent first logins for the same user cannot trip the unique key.
func (s *Service) EnsureAccount(ctx context.Context, userID, displayName string) error {
	userID = normalize(userID)
	if userID == "" {
		return ErrInvalidUserID
	}
	name := normalize(displayName)

	_, seen := s.seen.Load(userID)
	if seen && name == "" {
		return nil
	}

	account := Account{
		UserID:      userID,
		DisplayName: name,
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&account)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 && name != "" {
		err := s.db.WithContext(ctx).Model(&Account{}).
			Where("user_id = ? AND display_name <> ?", userID, name).
			Update("display_name", name).Error
		if err != nil {
			return err
		}
	}

	if !seen {
		if err := s.reputation.Ensure(ctx, userID); err != nil {
			return err
		}
	}

	s.seen.Store(userID, struct{}{})
	return nil
}
