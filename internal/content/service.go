package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the content item is absent or soft-deleted.
	ErrNotFound = errors.New("content: not found")
	// ErrConflict indicates the content row changed between load and
	// update. The caller must reload and re-decide the toggle rather than
	// re-apply it blindly.
	ErrConflict = errors.New("content: concurrent modification")
	// ErrStoreTimeout indicates the store did not answer within the request deadline.
	ErrStoreTimeout = errors.New("content: store timeout")
	// ErrNotAuthor indicates a mutation attempted by someone other than the content author.
	ErrNotAuthor = errors.New("content: requester is not the author")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errEmptyBody         = errors.New("body is required")
	errEmptyTitle        = errors.New("title is required")

	noOpLogger = zap.NewNop()
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "content.service.new"
	opCreateQuestion = "content.create_question"
	opCreateAnswer   = "content.create_answer"
	opGetQuestion    = "content.get_question"
	opLoad           = "content.load"
	opApplyVote      = "content.apply_vote"
	opDelete         = "content.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// wrapStoreError surfaces deadline expiry as ErrStoreTimeout so callers can
// distinguish a slow store from a failed statement.
func wrapStoreError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	}
	return err
}

// IDProvider issues identifiers for new content rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the content service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns question, answer and vote-ledger persistence.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateQuestion persists a new question with an empty vote ledger.
func (s *Service) CreateQuestion(ctx context.Context, authorID UserID, title, body string) (Question, error) {
	if title == "" {
		return Question{}, newServiceError(opCreateQuestion, "missing_title", errEmptyTitle)
	}
	if body == "" {
		return Question{}, newServiceError(opCreateQuestion, "missing_body", errEmptyBody)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateQuestion, "id_generation_failed", err)
		return Question{}, newServiceError(opCreateQuestion, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	question := Question{
		QuestionID:       id,
		AuthorID:         authorID.String(),
		Title:            title,
		Body:             body,
		Version:          1,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&question).Error; err != nil {
		s.logError(opCreateQuestion, "insert_failed", err, zap.String("question_id", id))
		return Question{}, newServiceError(opCreateQuestion, "insert_failed", wrapStoreError(err))
	}
	return question, nil
}

// CreateAnswer persists a new answer under an existing, non-deleted question.
func (s *Service) CreateAnswer(ctx context.Context, questionID ContentID, authorID UserID, body string) (Answer, error) {
	if body == "" {
		return Answer{}, newServiceError(opCreateAnswer, "missing_body", errEmptyBody)
	}

	var question Question
	err := s.db.WithContext(ctx).
		Where("question_id = ? AND is_deleted = ?", questionID.String(), false).
		Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Answer{}, ErrNotFound
	}
	if err != nil {
		s.logError(opCreateAnswer, "question_select_failed", err, zap.String("question_id", questionID.String()))
		return Answer{}, newServiceError(opCreateAnswer, "question_select_failed", wrapStoreError(err))
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateAnswer, "id_generation_failed", err)
		return Answer{}, newServiceError(opCreateAnswer, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	answer := Answer{
		AnswerID:         id,
		QuestionID:       questionID.String(),
		AuthorID:         authorID.String(),
		Body:             body,
		Version:          1,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&answer).Error; err != nil {
		s.logError(opCreateAnswer, "insert_failed", err, zap.String("answer_id", id))
		return Answer{}, newServiceError(opCreateAnswer, "insert_failed", wrapStoreError(err))
	}
	return answer, nil
}

// GetQuestion loads a question and its non-deleted answers, accepted first.
func (s *Service) GetQuestion(ctx context.Context, questionID ContentID) (Question, []Answer, error) {
	var question Question
	err := s.db.WithContext(ctx).
		Where("question_id = ? AND is_deleted = ?", questionID.String(), false).
		Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Question{}, nil, ErrNotFound
	}
	if err != nil {
		s.logError(opGetQuestion, "question_select_failed", err, zap.String("question_id", questionID.String()))
		return Question{}, nil, newServiceError(opGetQuestion, "question_select_failed", wrapStoreError(err))
	}

	var answers []Answer
	err = s.db.WithContext(ctx).
		Where("question_id = ? AND is_deleted = ?", questionID.String(), false).
		Order("is_accepted DESC, vote_tally DESC, created_at_s ASC").
		Find(&answers).Error
	if err != nil {
		s.logError(opGetQuestion, "answers_select_failed", err, zap.String("question_id", questionID.String()))
		return Question{}, nil, newServiceError(opGetQuestion, "answers_select_failed", wrapStoreError(err))
	}

	return question, answers, nil
}

// Load returns the coordinator's read view of one content item. Soft-deleted
// items report ErrNotFound: their vote state is frozen, not mutable.
func (s *Service) Load(ctx context.Context, kind Kind, id ContentID) (Snapshot, error) {
	return s.loadSnapshot(s.db.WithContext(ctx), kind, id)
}

func (s *Service) loadSnapshot(db *gorm.DB, kind Kind, id ContentID) (Snapshot, error) {
	switch kind {
	case KindQuestion:
		var question Question
		err := db.Where("question_id = ?", id.String()).Take(&question).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, ErrNotFound
		}
		if err != nil {
			s.logError(opLoad, "question_select_failed", err, zap.String("content_id", id.String()))
			return Snapshot{}, newServiceError(opLoad, "question_select_failed", wrapStoreError(err))
		}
		if question.IsDeleted {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{
			Kind:             KindQuestion,
			ID:               question.QuestionID,
			AuthorID:         question.AuthorID,
			AcceptedAnswerID: question.AcceptedAnswerID,
			VoteTally:        question.VoteTally,
			Version:          question.Version,
		}, nil
	case KindAnswer:
		var answer Answer
		err := db.Where("answer_id = ?", id.String()).Take(&answer).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, ErrNotFound
		}
		if err != nil {
			s.logError(opLoad, "answer_select_failed", err, zap.String("content_id", id.String()))
			return Snapshot{}, newServiceError(opLoad, "answer_select_failed", wrapStoreError(err))
		}
		if answer.IsDeleted {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{
			Kind:       KindAnswer,
			ID:         answer.AnswerID,
			AuthorID:   answer.AuthorID,
			QuestionID: answer.QuestionID,
			IsAccepted: answer.IsAccepted,
			VoteTally:  answer.VoteTally,
			Version:    answer.Version,
		}, nil
	default:
		return Snapshot{}, newServiceError(opLoad, "unknown_kind", fmt.Errorf("kind %q", kind))
	}
}

// VoteOutcome reports the committed result of one toggle request.
type VoteOutcome struct {
	Prior      VoteState
	State      VoteState
	Transition Transition
	Tally      int64
}

// ApplyVote runs the toggle in its own transaction. Callers that need to
// combine the toggle with other writes use ApplyVoteTx inside their own
// transaction instead.
func (s *Service) ApplyVote(ctx context.Context, kind Kind, id ContentID, userID UserID, direction Direction, expectedVersion int64) (VoteOutcome, error) {
	var outcome VoteOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		outcome, txErr = s.ApplyVoteTx(tx, kind, id, userID, direction, expectedVersion)
		return txErr
	})
	if err != nil {
		return VoteOutcome{}, err
	}
	return outcome, nil
}

// ApplyVoteTx applies one vote toggle inside the supplied transaction: it
// resolves the user's ledger transition, mutates the vote record, recomputes
// the tally from the ledger and writes it back guarded by the version the
// caller observed at load time. A stale version yields ErrConflict and
// leaves the ledger untouched (the enclosing transaction rolls back).
func (s *Service) ApplyVoteTx(tx *gorm.DB, kind Kind, id ContentID, userID UserID, direction Direction, expectedVersion int64) (VoteOutcome, error) {
	var existing VoteRecord
	var existingPtr *VoteRecord
	err := tx.Where("content_kind = ? AND content_id = ? AND user_id = ?", string(kind), id.String(), userID.String()).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		existingPtr = nil
	} else if err != nil {
		s.logError(opApplyVote, "record_select_failed", err, voteFields(kind, id, userID)...)
		return VoteOutcome{}, newServiceError(opApplyVote, "record_select_failed", wrapStoreError(err))
	} else {
		existingPtr = &existing
	}

	prior := stateOf(existingPtr)
	next, transition := resolveVote(prior, direction)

	switch transition {
	case TransitionCast:
		record := VoteRecord{
			ContentKind:   string(kind),
			ContentID:     id.String(),
			UserID:        userID.String(),
			Value:         direction.Weight(),
			CastAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opApplyVote, "record_insert_failed", err, voteFields(kind, id, userID)...)
			return VoteOutcome{}, newServiceError(opApplyVote, "record_insert_failed", wrapStoreError(err))
		}
	case TransitionRemoved:
		if err := tx.Delete(&existing).Error; err != nil {
			s.logError(opApplyVote, "record_delete_failed", err, voteFields(kind, id, userID)...)
			return VoteOutcome{}, newServiceError(opApplyVote, "record_delete_failed", wrapStoreError(err))
		}
	case TransitionSwitched:
		updates := map[string]interface{}{
			"value":     direction.Weight(),
			"cast_at_s": s.clock().UTC().Unix(),
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			s.logError(opApplyVote, "record_update_failed", err, voteFields(kind, id, userID)...)
			return VoteOutcome{}, newServiceError(opApplyVote, "record_update_failed", wrapStoreError(err))
		}
	}

	tally, err := s.ledgerTally(tx, kind, id)
	if err != nil {
		return VoteOutcome{}, err
	}

	if err := s.commitTally(tx, kind, id, tally, expectedVersion); err != nil {
		return VoteOutcome{}, err
	}

	return VoteOutcome{
		Prior:      prior,
		State:      next,
		Transition: transition,
		Tally:      tally,
	}, nil
}

// ledgerTally recomputes the net tally from the vote records, never from the
// cached column.
func (s *Service) ledgerTally(tx *gorm.DB, kind Kind, id ContentID) (int64, error) {
	var tally int64
	err := tx.Model(&VoteRecord{}).
		Select("COALESCE(SUM(value), 0)").
		Where("content_kind = ? AND content_id = ?", string(kind), id.String()).
		Scan(&tally).Error
	if err != nil {
		s.logError(opApplyVote, "tally_sum_failed", err, zap.String("content_id", id.String()))
		return 0, newServiceError(opApplyVote, "tally_sum_failed", wrapStoreError(err))
	}
	return tally, nil
}

func (s *Service) commitTally(tx *gorm.DB, kind Kind, id ContentID, tally, expectedVersion int64) error {
	updates := map[string]interface{}{
		"vote_tally":   tally,
		"version":      expectedVersion + 1,
		"updated_at_s": s.clock().UTC().Unix(),
	}

	var result *gorm.DB
	switch kind {
	case KindQuestion:
		result = tx.Model(&Question{}).
			Where("question_id = ? AND version = ? AND is_deleted = ?", id.String(), expectedVersion, false).
			Updates(updates)
	case KindAnswer:
		result = tx.Model(&Answer{}).
			Where("answer_id = ? AND version = ? AND is_deleted = ?", id.String(), expectedVersion, false).
			Updates(updates)
	default:
		return newServiceError(opApplyVote, "unknown_kind", fmt.Errorf("kind %q", kind))
	}

	if result.Error != nil {
		s.logError(opApplyVote, "tally_update_failed", result.Error, zap.String("content_id", id.String()))
		return newServiceError(opApplyVote, "tally_update_failed", wrapStoreError(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteQuestion soft-deletes a question owned by the requester. The vote
// ledger is frozen in place, not migrated or cleared.
func (s *Service) DeleteQuestion(ctx context.Context, questionID ContentID, requesterID UserID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var question Question
		err := tx.Where("question_id = ? AND is_deleted = ?", questionID.String(), false).Take(&question).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			s.logError(opDelete, "question_select_failed", err, zap.String("question_id", questionID.String()))
			return newServiceError(opDelete, "question_select_failed", wrapStoreError(err))
		}
		if question.AuthorID != requesterID.String() {
			return ErrNotAuthor
		}

		updates := map[string]interface{}{
			"is_deleted":   true,
			"updated_at_s": s.clock().UTC().Unix(),
		}
		if err := tx.Model(&question).Updates(updates).Error; err != nil {
			s.logError(opDelete, "question_update_failed", err, zap.String("question_id", questionID.String()))
			return newServiceError(opDelete, "question_update_failed", wrapStoreError(err))
		}
		return nil
	})
}

// DeleteAnswer soft-deletes an answer owned by the requester. Deleting the
// currently-accepted answer clears the question's pointer; reputation already
// granted for the acceptance stays (ledger deltas are one-way).
func (s *Service) DeleteAnswer(ctx context.Context, answerID ContentID, requesterID UserID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var answer Answer
		err := tx.Where("answer_id = ? AND is_deleted = ?", answerID.String(), false).Take(&answer).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			s.logError(opDelete, "answer_select_failed", err, zap.String("answer_id", answerID.String()))
			return newServiceError(opDelete, "answer_select_failed", wrapStoreError(err))
		}
		if answer.AuthorID != requesterID.String() {
			return ErrNotAuthor
		}

		now := s.clock().UTC().Unix()
		updates := map[string]interface{}{
			"is_deleted":   true,
			"updated_at_s": now,
		}
		if err := tx.Model(&answer).Updates(updates).Error; err != nil {
			s.logError(opDelete, "answer_update_failed", err, zap.String("answer_id", answerID.String()))
			return newServiceError(opDelete, "answer_update_failed", wrapStoreError(err))
		}

		if !answer.IsAccepted {
			return nil
		}
		err = tx.Model(&Question{}).
			Where("question_id = ? AND accepted_answer_id = ?", answer.QuestionID, answer.AnswerID).
			Updates(map[string]interface{}{
				"accepted_answer_id": "",
				"updated_at_s":       now,
			}).Error
		if err != nil {
			s.logError(opDelete, "accepted_pointer_clear_failed", err, zap.String("answer_id", answerID.String()))
			return newServiceError(opDelete, "accepted_pointer_clear_failed", wrapStoreError(err))
		}
		return nil
	})
}

// VoterState reports the requesting user's active vote on one content item.
func (s *Service) VoterState(ctx context.Context, kind Kind, id ContentID, userID UserID) (VoteState, error) {
	var record VoteRecord
	err := s.db.WithContext(ctx).
		Where("content_kind = ? AND content_id = ? AND user_id = ?", string(kind), id.String(), userID.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return VoteNone, nil
	}
	if err != nil {
		s.logError(opLoad, "record_select_failed", err, voteFields(kind, id, userID)...)
		return VoteNone, newServiceError(opLoad, "record_select_failed", wrapStoreError(err))
	}
	return stateOf(&record), nil
}

func voteFields(kind Kind, id ContentID, userID UserID) []zap.Field {
	return []zap.Field{
		zap.String("content_kind", string(kind)),
		zap.String("content_id", id.String()),
		zap.String("user_id", userID.String()),
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("content service error", attrs...)
}
