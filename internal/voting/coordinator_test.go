package voting

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/opencurio/curio/backend/internal/content"
	"gorm.io/gorm"
)

func TestVoteDeltaTable(t *testing.T) {
	tests := []struct {
		kind      content.Kind
		direction content.Direction
		expect    int64
	}{
		{content.KindQuestion, content.DirectionUp, 5},
		{content.KindQuestion, content.DirectionDown, -2},
		{content.KindAnswer, content.DirectionUp, 10},
		{content.KindAnswer, content.DirectionDown, -2},
	}
	for _, tc := range tests {
		if got := voteDelta(tc.kind, tc.direction); got != tc.expect {
			t.Fatalf("voteDelta(%s, %s) = %d, want %d", tc.kind, tc.direction, got, tc.expect)
		}
	}
}

func TestVoteUpvoteGrantsAuthorReputation(t *testing.T) {
	h := newTestHarness(t, 1)
	question := h.seedQuestion(t, "author-1")

	result, err := h.coordinator.Vote(context.Background(), content.KindQuestion,
		mustContentID(t, question.QuestionID), mustUserID(t, "voter-1"), content.DirectionUp)
	if err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}
	if result.Tally != 1 {
		t.Fatalf("expected tally 1, got %d", result.Tally)
	}
	if score := h.score(t, "author-1"); score != 5 {
		t.Fatalf("expected author reputation 5, got %d", score)
	}
	if len(h.notifier.voteCasts) != 1 {
		t.Fatalf("expected one upvote notification, got %d", len(h.notifier.voteCasts))
	}
}

// Toggling a vote off applies the inverse delta, so the author's
// vote-derived reputation always tracks the active ledger.
func TestVoteToggleOffRestoresAuthorReputation(t *testing.T) {
	h := newTestHarness(t, 1)
	question := h.seedQuestion(t, "author-1")
	ctx := context.Background()
	questionID := mustContentID(t, question.QuestionID)
	voter := mustUserID(t, "voter-1")

	if _, err := h.coordinator.Vote(ctx, content.KindQuestion, questionID, voter, content.DirectionUp); err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}
	result, err := h.coordinator.Vote(ctx, content.KindQuestion, questionID, voter, content.DirectionUp)
	if err != nil {
		t.Fatalf("unexpected toggle-off error: %v", err)
	}

	if result.Tally != 0 {
		t.Fatalf("expected tally back at 0, got %d", result.Tally)
	}
	if score := h.score(t, "author-1"); score != 0 {
		t.Fatalf("expected author reputation back at 0, got %d", score)
	}
	if len(h.notifier.voteCasts) != 1 {
		t.Fatalf("toggle-off must not notify, got %d notifications", len(h.notifier.voteCasts))
	}
}

func TestVoteSwitchAppliesBothDeltas(t *testing.T) {
	h := newTestHarness(t, 2)
	question := h.seedQuestion(t, "author-1")
	answer := h.seedAnswer(t, question.QuestionID, "author-2")
	ctx := context.Background()
	answerID := mustContentID(t, answer.AnswerID)
	voter := mustUserID(t, "voter-1")

	if _, err := h.coordinator.Vote(ctx, content.KindAnswer, answerID, voter, content.DirectionUp); err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}
	if score := h.score(t, "author-2"); score != 10 {
		t.Fatalf("expected answer author at 10 after upvote, got %d", score)
	}

	result, err := h.coordinator.Vote(ctx, content.KindAnswer, answerID, voter, content.DirectionDown)
	if err != nil {
		t.Fatalf("unexpected switch error: %v", err)
	}
	if result.Tally != -1 {
		t.Fatalf("expected tally -1 after switch, got %d", result.Tally)
	}
	// -10 reverses the upvote, -2 applies the downvote.
	if score := h.score(t, "author-2"); score != -2 {
		t.Fatalf("expected answer author at -2 after switch, got %d", score)
	}
}

func TestVoteRejectsSelfVote(t *testing.T) {
	h := newTestHarness(t, 1)
	question := h.seedQuestion(t, "author-1")
	ctx := context.Background()
	questionID := mustContentID(t, question.QuestionID)

	_, err := h.coordinator.Vote(ctx, content.KindQuestion, questionID, mustUserID(t, "author-1"), content.DirectionUp)
	if !errors.Is(err, ErrSelfVote) {
		t.Fatalf("expected ErrSelfVote, got %v", err)
	}

	snapshot, err := h.content.Load(ctx, content.KindQuestion, questionID)
	if err != nil {
		t.Fatalf("failed to reload question: %v", err)
	}
	if snapshot.VoteTally != 0 || snapshot.Version != 1 {
		t.Fatalf("self-vote must not mutate content: tally %d, version %d", snapshot.VoteTally, snapshot.Version)
	}
	if score := h.score(t, "author-1"); score != 0 {
		t.Fatalf("self-vote must not touch reputation, got %d", score)
	}
}

func TestVoteMissingContentFails(t *testing.T) {
	h := newTestHarness(t, 0)
	_, err := h.coordinator.Vote(context.Background(), content.KindQuestion,
		mustContentID(t, "no-such-question"), mustUserID(t, "voter-1"), content.DirectionUp)
	if !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVoteOnDeletedContentFails(t *testing.T) {
	h := newTestHarness(t, 1)
	question := h.seedQuestion(t, "author-1")
	ctx := context.Background()
	questionID := mustContentID(t, question.QuestionID)

	if err := h.content.DeleteQuestion(ctx, questionID, mustUserID(t, "author-1")); err != nil {
		t.Fatalf("failed to delete question: %v", err)
	}
	_, err := h.coordinator.Vote(ctx, content.KindQuestion, questionID, mustUserID(t, "voter-1"), content.DirectionUp)
	if !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected ErrNotFound voting on deleted content, got %v", err)
	}
}

// Scenario from the vote-ledger design: baseline question, one voter.
func TestVoteScenarioUpvoteThenToggleOff(t *testing.T) {
	h := newTestHarness(t, 1)
	question := h.seedQuestion(t, "author-1")
	ctx := context.Background()
	questionID := mustContentID(t, question.QuestionID)
	voter := mustUserID(t, "voter-1")

	first, err := h.coordinator.Vote(ctx, content.KindQuestion, questionID, voter, content.DirectionUp)
	if err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}
	if first.Tally != 1 {
		t.Fatalf("expected tally 1, got %d", first.Tally)
	}
	if score := h.score(t, "author-1"); score != 5 {
		t.Fatalf("expected author at +5, got %d", score)
	}

	second, err := h.coordinator.Vote(ctx, content.KindQuestion, questionID, voter, content.DirectionUp)
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if second.Tally != 0 {
		t.Fatalf("expected tally 0, got %d", second.Tally)
	}
	if score := h.score(t, "author-1"); score != 0 {
		t.Fatalf("expected author back at 0 under net-transition deltas, got %d", score)
	}

	state, err := h.content.VoterState(ctx, content.KindQuestion, questionID, voter)
	if err != nil {
		t.Fatalf("failed to read voter state: %v", err)
	}
	if state != content.VoteNone {
		t.Fatalf("expected empty ledger after double upvote, got %s", state)
	}
}

func TestVoteUpThenDownLeavesSingleDownvote(t *testing.T) {
	h := newTestHarness(t, 1)
	question := h.seedQuestion(t, "author-1")
	ctx := context.Background()
	questionID := mustContentID(t, question.QuestionID)
	voter := mustUserID(t, "voter-1")

	if _, err := h.coordinator.Vote(ctx, content.KindQuestion, questionID, voter, content.DirectionUp); err != nil {
		t.Fatalf("unexpected vote error: %v", err)
	}
	result, err := h.coordinator.Vote(ctx, content.KindQuestion, questionID, voter, content.DirectionDown)
	if err != nil {
		t.Fatalf("unexpected switch error: %v", err)
	}
	if result.Tally != -1 {
		t.Fatalf("expected tally -1, got %d", result.Tally)
	}

	state, err := h.content.VoterState(ctx, content.KindQuestion, questionID, voter)
	if err != nil {
		t.Fatalf("failed to read voter state: %v", err)
	}
	if state != content.VoteDown {
		t.Fatalf("expected active downvote, got %s", state)
	}
}

// conflictingStore fails the toggle with ErrConflict a fixed number of times
// before delegating to the real service, exercising the reload-and-retry path.
type conflictingStore struct {
	ContentStore
	failures int
}

func (s *conflictingStore) ApplyVoteTx(tx *gorm.DB, kind content.Kind, id content.ContentID, userID content.UserID, direction content.Direction, expectedVersion int64) (content.VoteOutcome, error) {
	if s.failures > 0 {
		s.failures--
		return content.VoteOutcome{}, content.ErrConflict
	}
	return s.ContentStore.ApplyVoteTx(tx, kind, id, userID, direction, expectedVersion)
}

func TestVoteRetriesConflictThenSucceeds(t *testing.T) {
	h := newTestHarness(t, 1)
	question := h.seedQuestion(t, "author-1")

	store := &conflictingStore{ContentStore: h.content, failures: 2}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Database:   h.db,
		Content:    store,
		Reputation: h.reputation,
	})
	if err != nil {
		t.Fatalf("unexpected coordinator error: %v", err)
	}

	result, err := coordinator.Vote(context.Background(), content.KindQuestion,
		mustContentID(t, question.QuestionID), mustUserID(t, "voter-1"), content.DirectionUp)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if result.Tally != 1 {
		t.Fatalf("expected tally 1 after retries, got %d", result.Tally)
	}
}

func TestVoteSurfacesConflictAfterRetriesExhausted(t *testing.T) {
	h := newTestHarness(t, 1)
	question := h.seedQuestion(t, "author-1")

	store := &conflictingStore{ContentStore: h.content, failures: maxAttempts}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Database:   h.db,
		Content:    store,
		Reputation: h.reputation,
	})
	if err != nil {
		t.Fatalf("unexpected coordinator error: %v", err)
	}

	_, err = coordinator.Vote(context.Background(), content.KindQuestion,
		mustContentID(t, question.QuestionID), mustUserID(t, "voter-1"), content.DirectionUp)
	if !errors.Is(err, content.ErrConflict) {
		t.Fatalf("expected conflict after exhausting retries, got %v", err)
	}
}

// timeoutStore times out on Load a fixed number of times.
type timeoutStore struct {
	ContentStore
	failures int
}

func (s *timeoutStore) Load(ctx context.Context, kind content.Kind, id content.ContentID) (content.Snapshot, error) {
	if s.failures > 0 {
		s.failures--
		return content.Snapshot{}, fmt.Errorf("%w: simulated", content.ErrStoreTimeout)
	}
	return s.ContentStore.Load(ctx, kind, id)
}

func TestVoteRetriesTimeoutOnce(t *testing.T) {
	h := newTestHarness(t, 1)
	question := h.seedQuestion(t, "author-1")

	store := &timeoutStore{ContentStore: h.content, failures: 1}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Database:   h.db,
		Content:    store,
		Reputation: h.reputation,
	})
	if err != nil {
		t.Fatalf("unexpected coordinator error: %v", err)
	}

	if _, err := coordinator.Vote(context.Background(), content.KindQuestion,
		mustContentID(t, question.QuestionID), mustUserID(t, "voter-1"), content.DirectionUp); err != nil {
		t.Fatalf("expected single timeout to be retried, got %v", err)
	}
}

func TestVoteSurfacesRepeatedTimeout(t *testing.T) {
	h := newTestHarness(t, 1)
	question := h.seedQuestion(t, "author-1")

	store := &timeoutStore{ContentStore: h.content, failures: 2}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Database:   h.db,
		Content:    store,
		Reputation: h.reputation,
	})
	if err != nil {
		t.Fatalf("unexpected coordinator error: %v", err)
	}

	_, err = coordinator.Vote(context.Background(), content.KindQuestion,
		mustContentID(t, question.QuestionID), mustUserID(t, "voter-1"), content.DirectionUp)
	if !errors.Is(err, content.ErrStoreTimeout) {
		t.Fatalf("expected timeout to surface after one retry, got %v", err)
	}
}
