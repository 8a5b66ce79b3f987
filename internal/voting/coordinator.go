package voting

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencurio/curio/backend/internal/content"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxAttempts bounds reload-and-retry on optimistic write conflicts.
const maxAttempts = 3

// acceptedAnswerBonus is granted to the answer author once per acceptance,
// independent of and additive to vote-driven deltas. It is never retracted.
const acceptedAnswerBonus = 15

var (
	// ErrSelfVote rejects votes on one's own content.
	ErrSelfVote = errors.New("voting: cannot vote on own content")
	// ErrNotQuestionAuthor rejects accept requests from anyone but the question author.
	ErrNotQuestionAuthor = errors.New("voting: only the question author may accept an answer")
	// ErrAlreadyAccepted rejects accepting the answer that is already accepted.
	ErrAlreadyAccepted = errors.New("voting: answer is already accepted")
	// ErrAnswerMismatch rejects accepting an answer that belongs to a different question.
	ErrAnswerMismatch = errors.New("voting: answer does not belong to question")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingContent    = errors.New("content service is required")
	errMissingReputation = errors.New("reputation service is required")

	noOpLogger = zap.NewNop()
)

// ContentStore is the slice of the content service the coordinator needs.
type ContentStore interface {
	Load(ctx context.Context, kind content.Kind, id content.ContentID) (content.Snapshot, error)
	ApplyVoteTx(tx *gorm.DB, kind content.Kind, id content.ContentID, userID content.UserID, direction content.Direction, expectedVersion int64) (content.VoteOutcome, error)
	SetAcceptedAnswerTx(tx *gorm.DB, question content.Snapshot, answer content.Snapshot) error
}

// ReputationStore applies signed deltas to author scores.
type ReputationStore interface {
	ApplyTx(tx *gorm.DB, userID string, delta int64) error
}

// Notifier receives best-effort events after a committed vote or accept.
// Failures are the notifier's problem; the coordinator never propagates them.
type Notifier interface {
	VoteCast(ctx context.Context, recipientID, actorID string, contentKind, contentID string)
	AnswerAccepted(ctx context.Context, recipientID, actorID, answerID string)
}

type noopNotifier struct{}

func (noopNotifier) VoteCast(context.Context, string, string, string, string) {}
func (noopNotifier) AnswerAccepted(context.Context, string, string, string)   {}

// CoordinatorConfig describes the collaborators of the vote coordinator.
type CoordinatorConfig struct {
	Database   *gorm.DB
	Content    ContentStore
	Reputation ReputationStore
	Notifier   Notifier
	Logger     *zap.Logger
}

// Coordinator sequences the content-ledger mutation and the author
// reputation delta for votes and answer acceptance. Both writes run in one
// store transaction, so a committed vote always has its reputation delta and
// vice versa.
type Coordinator struct {
	db         *gorm.DB
	content    ContentStore
	reputation ReputationStore
	notifier   Notifier
	logger     *zap.Logger
}

// NewCoordinator validates the configuration and constructs the coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("voting: %w", errMissingDatabase)
	}
	if cfg.Content == nil {
		return nil, fmt.Errorf("voting: %w", errMissingContent)
	}
	if cfg.Reputation == nil {
		return nil, fmt.Errorf("voting: %w", errMissingReputation)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Coordinator{
		db:         cfg.Database,
		content:    cfg.Content,
		reputation: cfg.Reputation,
		notifier:   notifier,
		logger:     logger,
	}, nil
}

// voteDelta is the author reputation delta for one active vote.
func voteDelta(kind content.Kind, direction content.Direction) int64 {
	switch kind {
	case content.KindAnswer:
		if direction == content.DirectionDown {
			return -2
		}
		return 10
	default:
		if direction == content.DirectionDown {
			return -2
		}
		return 5
	}
}

func directionOf(state content.VoteState) content.Direction {
	if state == content.VoteDown {
		return content.DirectionDown
	}
	return content.DirectionUp
}

// transitionDelta derives the author delta from the net ledger transition:
// entering a voted state applies the table delta, leaving one applies its
// inverse. A user's vote-derived contribution to an author's score therefore
// always matches their currently-active vote.
func transitionDelta(kind content.Kind, outcome content.VoteOutcome) int64 {
	switch outcome.Transition {
	case content.TransitionCast:
		return voteDelta(kind, directionOf(outcome.State))
	case content.TransitionRemoved:
		return -voteDelta(kind, directionOf(outcome.Prior))
	case content.TransitionSwitched:
		return voteDelta(kind, directionOf(outcome.State)) - voteDelta(kind, directionOf(outcome.Prior))
	default:
		return 0
	}
}

// VoteResult reports the committed tally after a toggle request.
type VoteResult struct {
	Tally      int64
	Transition content.Transition

	authorID string
}

// Vote toggles one user's vote on one content item and applies the matching
// reputation delta to the item's author. Conflicting concurrent writes are
// retried from the load step, bounded by maxAttempts; a store timeout is
// retried once and then surfaced.
func (c *Coordinator) Vote(ctx context.Context, kind content.Kind, contentID content.ContentID, voterID content.UserID, direction content.Direction) (VoteResult, error) {
	timeoutRetried := false
	attempt := 0
	for {
		result, err := c.voteOnce(ctx, kind, contentID, voterID, direction)
		switch {
		case errors.Is(err, content.ErrConflict):
			attempt++
			if attempt >= maxAttempts {
				c.logger.Warn("vote retries exhausted",
					zap.String("content_id", contentID.String()),
					zap.String("voter_id", voterID.String()),
					zap.Int("attempts", attempt))
				return VoteResult{}, err
			}
			continue
		case errors.Is(err, content.ErrStoreTimeout):
			if timeoutRetried {
				return VoteResult{}, err
			}
			timeoutRetried = true
			continue
		case err != nil:
			return VoteResult{}, err
		}

		if result.Transition != content.TransitionRemoved && direction == content.DirectionUp {
			c.notifier.VoteCast(ctx, result.authorID, voterID.String(), string(kind), contentID.String())
		}
		return result, nil
	}
}

func (c *Coordinator) voteOnce(ctx context.Context, kind content.Kind, contentID content.ContentID, voterID content.UserID, direction content.Direction) (VoteResult, error) {
	snapshot, err := c.content.Load(ctx, kind, contentID)
	if err != nil {
		return VoteResult{}, err
	}
	if snapshot.AuthorID == voterID.String() {
		return VoteResult{}, ErrSelfVote
	}

	var outcome content.VoteOutcome
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		outcome, txErr = c.content.ApplyVoteTx(tx, kind, contentID, voterID, direction, snapshot.Version)
		if txErr != nil {
			return txErr
		}
		if delta := transitionDelta(kind, outcome); delta != 0 {
			return c.reputation.ApplyTx(tx, snapshot.AuthorID, delta)
		}
		return nil
	})
	if err != nil {
		return VoteResult{}, err
	}

	c.logger.Debug("vote committed",
		zap.String("content_kind", string(kind)),
		zap.String("content_id", contentID.String()),
		zap.String("voter_id", voterID.String()),
		zap.String("transition", string(outcome.Transition)),
		zap.Int64("tally", outcome.Tally))

	return VoteResult{
		Tally:      outcome.Tally,
		Transition: outcome.Transition,
		authorID:   snapshot.AuthorID,
	}, nil
}

// Accept marks an answer as the question's accepted answer. Only the
// question author may accept; re-pointing from an earlier accepted answer
// un-flags it first. The answer author is granted the fixed bonus once per
// acceptance.
func (c *Coordinator) Accept(ctx context.Context, questionID, answerID content.ContentID, requesterID content.UserID) error {
	timeoutRetried := false
	attempt := 0
	for {
		recipient, err := c.acceptOnce(ctx, questionID, answerID, requesterID)
		switch {
		case errors.Is(err, content.ErrConflict):
			attempt++
			if attempt >= maxAttempts {
				c.logger.Warn("accept retries exhausted",
					zap.String("question_id", questionID.String()),
					zap.String("answer_id", answerID.String()),
					zap.Int("attempts", attempt))
				return err
			}
			continue
		case errors.Is(err, content.ErrStoreTimeout):
			if timeoutRetried {
				return err
			}
			timeoutRetried = true
			continue
		case err != nil:
			return err
		}

		c.notifier.AnswerAccepted(ctx, recipient, requesterID.String(), answerID.String())
		return nil
	}
}

func (c *Coordinator) acceptOnce(ctx context.Context, questionID, answerID content.ContentID, requesterID content.UserID) (string, error) {
	question, err := c.content.Load(ctx, content.KindQuestion, questionID)
	if err != nil {
		return "", err
	}
	if question.AuthorID != requesterID.String() {
		return "", ErrNotQuestionAuthor
	}

	answer, err := c.content.Load(ctx, content.KindAnswer, answerID)
	if err != nil {
		return "", err
	}
	if answer.QuestionID != questionID.String() {
		return "", ErrAnswerMismatch
	}
	if question.AcceptedAnswerID == answerID.String() {
		return "", ErrAlreadyAccepted
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if txErr := c.content.SetAcceptedAnswerTx(tx, question, answer); txErr != nil {
			return txErr
		}
		return c.reputation.ApplyTx(tx, answer.AuthorID, acceptedAnswerBonus)
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug("answer accepted",
		zap.String("question_id", questionID.String()),
		zap.String("answer_id", answerID.String()),
		zap.String("answer_author_id", answer.AuthorID))

	return answer.AuthorID, nil
}
