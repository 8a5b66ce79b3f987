package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")

	noOpLogger = zap.NewNop()
)

// Entry is one user's running reputation score. The score moves only by
// signed deltas; it is never recomputed from vote history.
type Entry struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Score            int64  `gorm:"column:score;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "reputation_ledger"
}

// ServiceConfig describes the dependencies of the reputation service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service applies fire-and-forget additive deltas to per-user scores.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("reputation: %w", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Ensure creates the zero-score ledger entry for a new user. Calling it again
// for an existing user is a no-op.
func (s *Service) Ensure(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("reputation: %w", errMissingUserID)
	}
	entry := Entry{
		UserID:           userID,
		Score:            0,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		s.logger.Error("reputation ensure failed", zap.String("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

// Apply adds a signed delta to the user's score in its own transaction.
func (s *Service) Apply(ctx context.Context, userID string, delta int64) error {
	return s.ApplyTx(s.db.WithContext(ctx), userID, delta)
}

// ApplyTx adds a signed delta inside the supplied transaction; a missing
// entry is created holding the delta. Deltas may drive the score negative.
func (s *Service) ApplyTx(tx *gorm.DB, userID string, delta int64) error {
	if userID == "" {
		return fmt.Errorf("reputation: %w", errMissingUserID)
	}
	now := s.clock().UTC().Unix()
	entry := Entry{
		UserID:           userID,
		Score:            delta,
		UpdatedAtSeconds: now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"score":        gorm.Expr("score + ?", delta),
			"updated_at_s": now,
		}),
	}).Create(&entry).Error
	if err != nil {
		s.logger.Error("reputation apply failed",
			zap.String("user_id", userID),
			zap.Int64("delta", delta),
			zap.Error(err))
		return err
	}
	return nil
}

// Score reads the user's current score; unknown users read as 0.
func (s *Service) Score(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("reputation: %w", errMissingUserID)
	}
	var entry Entry
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logger.Error("reputation read failed", zap.String("user_id", userID), zap.Error(err))
		return 0, err
	}
	return entry.Score, nil
}
