package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Kind enumerates the notification triggers.
type Kind string

const (
	// KindUpvote tells an author their content received a fresh upvote.
	KindUpvote Kind = "upvote"
	// KindAccepted tells an author their answer was accepted.
	KindAccepted Kind = "accepted"
)

var (
	// ErrNotFound indicates the notification does not exist or belongs to someone else.
	ErrNotFound = errors.New("notify: notification not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")

	noOpLogger = zap.NewNop()
)

// Notification is one persisted inbox row. Delivery is poll-based; there is
// no push channel.
type Notification struct {
	NotificationID   string `gorm:"column:notification_id;primaryKey;size:190;not null"`
	RecipientID      string `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient,priority:1"`
	ActorID          string `gorm:"column:actor_id;size:190;not null"`
	Kind             Kind   `gorm:"column:kind;size:32;not null"`
	ContentKind      string `gorm:"column:content_kind;size:16;not null"`
	ContentID        string `gorm:"column:content_id;size:190;not null"`
	IsRead           bool   `gorm:"column:is_read;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_notifications_recipient,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// IDProvider issues identifiers for new notification rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the notification service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service writes and serves the in-app notification inbox.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("notify: %w", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("notify: %w", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Record persists one notification row. Best-effort: callers treat a non-nil
// error as log-and-continue, never as a reason to fail the triggering
// operation.
func (s *Service) Record(ctx context.Context, recipientID, actorID string, kind Kind, contentKind, contentID string) error {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Warn("notification id generation failed", zap.Error(err))
		return err
	}
	row := Notification{
		NotificationID:   id,
		RecipientID:      recipientID,
		ActorID:          actorID,
		Kind:             kind,
		ContentKind:      contentKind,
		ContentID:        contentID,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Warn("notification insert failed",
			zap.String("recipient_id", recipientID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return err
	}
	return nil
}

// VoteCast records an upvote notification, best-effort. Errors are logged by
// Record and intentionally dropped: notification failures never fail a vote.
func (s *Service) VoteCast(ctx context.Context, recipientID, actorID string, contentKind, contentID string) {
	_ = s.Record(ctx, recipientID, actorID, KindUpvote, contentKind, contentID)
}

// AnswerAccepted records an acceptance notification, best-effort.
func (s *Service) AnswerAccepted(ctx context.Context, recipientID, actorID, answerID string) {
	_ = s.Record(ctx, recipientID, actorID, KindAccepted, "answer", answerID)
}

// List returns the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipientID string) ([]Notification, error) {
	var rows []Notification
	err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at_s DESC").
		Find(&rows).Error
	if err != nil {
		s.logger.Error("notification list failed", zap.String("recipient_id", recipientID), zap.Error(err))
		return nil, err
	}
	return rows, nil
}

// MarkRead flags one of the recipient's notifications as read.
func (s *Service) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("notification_id = ? AND recipient_id = ?", notificationID, recipientID).
		Update("is_read", true)
	if result.Error != nil {
		s.logger.Error("notification mark-read failed",
			zap.String("notification_id", notificationID),
			zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
