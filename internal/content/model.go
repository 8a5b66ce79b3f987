package content

import (
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes the two votable content variants.
type Kind string

const (
	// KindQuestion marks a question row.
	KindQuestion Kind = "question"
	// KindAnswer marks an answer row.
	KindAnswer Kind = "answer"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidContentID indicates that a content identifier is empty or exceeds storage bounds.
	ErrInvalidContentID = errors.New("content: invalid content id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("content: invalid user id")
	// ErrInvalidDirection indicates an unrecognized vote direction value.
	ErrInvalidDirection = errors.New("content: invalid vote direction")
)

// ContentID represents a validated question or answer identifier.
type ContentID string

// NewContentID validates raw input and returns a ContentID.
func NewContentID(rawInput string) (ContentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidContentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidContentID, maxIdentifierLength)
	}
	return ContentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ContentID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Direction is a requested vote direction.
type Direction string

const (
	// DirectionUp requests an upvote toggle.
	DirectionUp Direction = "up"
	// DirectionDown requests a downvote toggle.
	DirectionDown Direction = "down"
)

// ParseDirection validates a raw direction value from the transport layer.
func ParseDirection(rawInput string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(DirectionUp):
		return DirectionUp, nil
	case string(DirectionDown):
		return DirectionDown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, rawInput)
	}
}

// Weight is the signed contribution of one active vote to the tally.
func (d Direction) Weight() int {
	if d == DirectionDown {
		return -1
	}
	return 1
}

// Question models a persisted question with its cached vote tally.
type Question struct {
	QuestionID       string `gorm:"column:question_id;primaryKey;size:190;not null"`
	AuthorID         string `gorm:"column:author_id;size:190;not null;index:idx_questions_author"`
	Title            string `gorm:"column:title;size:300;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	AcceptedAnswerID string `gorm:"column:accepted_answer_id;size:190;not null;default:''"`
	VoteTally        int64  `gorm:"column:vote_tally;not null;default:0"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Question) TableName() string {
	return "questions"
}

// Answer models a persisted answer with its cached vote tally.
type Answer struct {
	AnswerID          string `gorm:"column:answer_id;primaryKey;size:190;not null"`
	QuestionID        string `gorm:"column:question_id;size:190;not null;index:idx_answers_question"`
	AuthorID          string `gorm:"column:author_id;size:190;not null;index:idx_answers_author"`
	Body              string `gorm:"column:body;type:text;not null"`
	IsAccepted        bool   `gorm:"column:is_accepted;not null;default:false"`
	AcceptedAtSeconds int64  `gorm:"column:accepted_at_s;not null;default:0"`
	VoteTally         int64  `gorm:"column:vote_tally;not null;default:0"`
	Version           int64  `gorm:"column:version;not null;default:1"`
	IsDeleted         bool   `gorm:"column:is_deleted;not null;default:false"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Answer) TableName() string {
	return "answers"
}

// VoteRecord holds one user's active vote on one content item. The composite
// primary key makes it impossible to record an upvote and a downvote from the
// same user on the same item.
type VoteRecord struct {
	ContentKind   string `gorm:"column:content_kind;primaryKey;size:16;not null"`
	ContentID     string `gorm:"column:content_id;primaryKey;size:190;not null"`
	UserID        string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Value         int    `gorm:"column:value;not null"`
	CastAtSeconds int64  `gorm:"column:cast_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VoteRecord) TableName() string {
	return "vote_records"
}

// Direction reports the recorded vote as a Direction.
func (r VoteRecord) Direction() Direction {
	if r.Value < 0 {
		return DirectionDown
	}
	return DirectionUp
}

// Snapshot is the read view the vote coordinator works from: enough to make
// the self-vote decision and to guard the subsequent mutation with the
// version observed at load time.
type Snapshot struct {
	Kind             Kind
	ID               string
	AuthorID         string
	QuestionID       string
	AcceptedAnswerID string
	IsAccepted       bool
	VoteTally        int64
	Version          int64
	IsDeleted        bool
}
