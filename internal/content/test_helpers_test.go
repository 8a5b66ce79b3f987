package content

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDatabaseSequence atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:content_test_%d?mode=memory&cache=shared", testDatabaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Question{}, &Answer{}, &VoteRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

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

func sequentialIDs(prefix string, count int) []string {
	ids := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		ids = append(ids, fmt.Sprintf("%s-%d", prefix, i))
	}
	return ids
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1755000000, 0).UTC() },
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("unexpected service constructor error: %v", err)
	}
	return service, db
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustContentID(t *testing.T, value string) ContentID {
	t.Helper()
	id, err := NewContentID(value)
	if err != nil {
		t.Fatalf("unexpected content id error: %v", err)
	}
	return id
}

func currentQuestion(t *testing.T, db *gorm.DB, id string) Question {
	t.Helper()
	var question Question
	if err := db.Where("question_id = ?", id).Take(&question).Error; err != nil {
		t.Fatalf("failed to load question %s: %v", id, err)
	}
	return question
}

func currentAnswer(t *testing.T, db *gorm.DB, id string) Answer {
	t.Helper()
	var answer Answer
	if err := db.Where("answer_id = ?", id).Take(&answer).Error; err != nil {
		t.Fatalf("failed to load answer %s: %v", id, err)
	}
	return answer
}
