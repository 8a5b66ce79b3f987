package content

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opAccept = "content.accept_answer"

// SetAcceptedAnswerTx moves the question's accepted-answer pointer inside the
// supplied transaction. The previously-accepted answer (if any) is un-flagged
// before the new one is flagged, so no committed state ever shows two
// accepted answers or a pointer at an un-flagged answer. The answer-flag
// update must match a live answer row and the question update is guarded by
// the version the caller observed; either going stale yields ErrConflict.
func (s *Service) SetAcceptedAnswerTx(tx *gorm.DB, question Snapshot, answer Snapshot) error {
	now := s.clock().UTC().Unix()

	if question.AcceptedAnswerID != "" {
		err := tx.Model(&Answer{}).
			Where("answer_id = ? AND is_accepted = ?", question.AcceptedAnswerID, true).
			Updates(map[string]interface{}{
				"is_accepted":   false,
				"accepted_at_s": 0,
				"updated_at_s":  now,
			}).Error
		if err != nil {
			s.logError(opAccept, "previous_unset_failed", err,
				zap.String("answer_id", question.AcceptedAnswerID))
			return newServiceError(opAccept, "previous_unset_failed", wrapStoreError(err))
		}
	}

	answerResult := tx.Model(&Answer{}).
		Where("answer_id = ? AND is_deleted = ?", answer.ID, false).
		Updates(map[string]interface{}{
			"is_accepted":   true,
			"accepted_at_s": now,
			"updated_at_s":  now,
		})
	if answerResult.Error != nil {
		s.logError(opAccept, "answer_set_failed", answerResult.Error, zap.String("answer_id", answer.ID))
		return newServiceError(opAccept, "answer_set_failed", wrapStoreError(answerResult.Error))
	}
	if answerResult.RowsAffected == 0 {
		// The answer vanished between the caller's load and this write.
		return ErrConflict
	}

	result := tx.Model(&Question{}).
		Where("question_id = ? AND version = ? AND is_deleted = ?", question.ID, question.Version, false).
		Updates(map[string]interface{}{
			"accepted_answer_id": answer.ID,
			"version":            question.Version + 1,
			"updated_at_s":       now,
		})
	if result.Error != nil {
		s.logError(opAccept, "question_update_failed", result.Error,
			zap.String("question_id", question.ID))
		return newServiceError(opAccept, "question_update_failed", wrapStoreError(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
