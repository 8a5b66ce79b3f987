package content

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"
)

func loadSnapshot(t *testing.T, service *Service, kind Kind, id string) Snapshot {
	t.Helper()
	snapshot, err := service.Load(context.Background(), kind, mustContentID(t, id))
	if err != nil {
		t.Fatalf("failed to load %s %s: %v", kind, id, err)
	}
	return snapshot
}

func TestSetAcceptedAnswerConflictsWhenAnswerDeletedAfterLoad(t *testing.T) {
	service, db := newTestService(t, sequentialIDs("id", 2))
	question := seedQuestion(t, service, "author-1")
	answer := seedAnswer(t, service, question.QuestionID, "author-2")
	ctx := context.Background()

	questionSnapshot := loadSnapshot(t, service, KindQuestion, question.QuestionID)
	answerSnapshot := loadSnapshot(t, service, KindAnswer, answer.AnswerID)

	// The answer disappears between the caller's load and the accept write.
	if err := service.DeleteAnswer(ctx, mustContentID(t, answer.AnswerID), mustUserID(t, "author-2")); err != nil {
		t.Fatalf("failed to delete answer: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return service.SetAcceptedAnswerTx(tx, questionSnapshot, answerSnapshot)
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for vanished answer, got %v", err)
	}

	// The rolled-back transaction must not leave the question pointing at a
	// deleted, un-flagged answer.
	storedQuestion := currentQuestion(t, db, question.QuestionID)
	if storedQuestion.AcceptedAnswerID != "" {
		t.Fatalf("expected empty accepted pointer, got %q", storedQuestion.AcceptedAnswerID)
	}
	storedAnswer := currentAnswer(t, db, answer.AnswerID)
	if storedAnswer.IsAccepted {
		t.Fatalf("deleted answer must not be flagged accepted")
	}
}

func TestSetAcceptedAnswerConflictsOnStaleQuestionVersion(t *testing.T) {
	service, db := newTestService(t, sequentialIDs("id", 2))
	question := seedQuestion(t, service, "author-1")
	answer := seedAnswer(t, service, question.QuestionID, "author-2")

	questionSnapshot := loadSnapshot(t, service, KindQuestion, question.QuestionID)
	answerSnapshot := loadSnapshot(t, service, KindAnswer, answer.AnswerID)

	// A committed vote bumps the question version past the snapshot.
	applyVote(t, service, KindQuestion, question.QuestionID, "voter-1", DirectionUp)

	err := db.Transaction(func(tx *gorm.DB) error {
		return service.SetAcceptedAnswerTx(tx, questionSnapshot, answerSnapshot)
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale question version, got %v", err)
	}

	storedQuestion := currentQuestion(t, db, question.QuestionID)
	if storedQuestion.AcceptedAnswerID != "" {
		t.Fatalf("expected empty accepted pointer after rollback, got %q", storedQuestion.AcceptedAnswerID)
	}
	storedAnswer := currentAnswer(t, db, answer.AnswerID)
	if storedAnswer.IsAccepted {
		t.Fatalf("answer must not stay flagged after rollback")
	}
}
