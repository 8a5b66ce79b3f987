package voting

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/opencurio/curio/backend/internal/content"
	"github.com/opencurio/curio/backend/internal/reputation"
	"gorm.io/gorm"
)

var testDatabaseSequence atomic.Int64

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type recordingNotifier struct {
	voteCasts []string
	accepts   []string
}

func (n *recordingNotifier) VoteCast(_ context.Context, recipientID, actorID string, contentKind, contentID string) {
	n.voteCasts = append(n.voteCasts, fmt.Sprintf("%s<-%s:%s/%s", recipientID, actorID, contentKind, contentID))
}

func (n *recordingNotifier) AnswerAccepted(_ context.Context, recipientID, actorID, answerID string) {
	n.accepts = append(n.accepts, fmt.Sprintf("%s<-%s:%s", recipientID, actorID, answerID))
}

type testHarness struct {
	db          *gorm.DB
	content     *content.Service
	reputation  *reputation.Service
	coordinator *Coordinator
	notifier    *recordingNotifier
}

func newTestHarness(t *testing.T, idCount int) *testHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:voting_test_%d?mode=memory&cache=shared", testDatabaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&content.Question{}, &content.Answer{}, &content.VoteRecord{}, &reputation.Entry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	clock := func() time.Time { return time.Unix(1755000000, 0).UTC() }
	ids := make([]string, 0, idCount)
	for i := 1; i <= idCount; i++ {
		ids = append(ids, fmt.Sprintf("id-%d", i))
	}

	contentService, err := content.NewService(content.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("unexpected content service error: %v", err)
	}
	reputationService, err := reputation.NewService(reputation.ServiceConfig{
		Database: db,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("unexpected reputation service error: %v", err)
	}

	notifier := &recordingNotifier{}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Database:   db,
		Content:    contentService,
		Reputation: reputationService,
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("unexpected coordinator error: %v", err)
	}

	return &testHarness{
		db:          db,
		content:     contentService,
		reputation:  reputationService,
		coordinator: coordinator,
		notifier:    notifier,
	}
}

func (h *testHarness) seedQuestion(t *testing.T, author string) content.Question {
	t.Helper()
	question, err := h.content.CreateQuestion(context.Background(), mustUserID(t, author), "How do I frobnicate?", "Details inside.")
	if err != nil {
		t.Fatalf("failed to seed question: %v", err)
	}
	return question
}

func (h *testHarness) seedAnswer(t *testing.T, questionID, author string) content.Answer {
	t.Helper()
	answer, err := h.content.CreateAnswer(context.Background(), mustContentID(t, questionID), mustUserID(t, author), "Frobnicate like this.")
	if err != nil {
		t.Fatalf("failed to seed answer: %v", err)
	}
	return answer
}

func (h *testHarness) score(t *testing.T, userID string) int64 {
	t.Helper()
	score, err := h.reputation.Score(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to read score: %v", err)
	}
	return score
}

func mustUserID(t *testing.T, value string) content.UserID {
	t.Helper()
	id, err := content.NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustContentID(t *testing.T, value string) content.ContentID {
	t.Helper()
	id, err := content.NewContentID(value)
	if err != nil {
		t.Fatalf("unexpected content id error: %v", err)
	}
	return id
}
