package task

import (
	"errors"
	"time"

	"github.com/code-100-precent/MedIntake/internal/models"
	"github.com/code-100-precent/MedIntake/pkg/dialogue"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionRecorder 记录一次问诊会话，数据库为空时所有操作都是空操作
type SessionRecorder struct {
	db      *gorm.DB
	session *models.IntakeSession
	caseID  string
}

// StartSession creates the session row. Failures are logged and the
// recorder keeps working without a database.
func StartSession(db *gorm.DB, now time.Time) *SessionRecorder {
	r := &SessionRecorder{db: db}
	if db == nil {
		return r
	}
	s, err := models.CreateIntakeSession(db, uuid.NewString(), now)
	if err != nil {
		logger.Error("Failed to create intake session", zap.Error(err))
		r.db = nil
		return r
	}
	r.session = s
	return r
}

// SessionID is empty when nothing is persisted.
func (r *SessionRecorder) SessionID() string {
	if r == nil || r.session == nil {
		return ""
	}
	return r.session.SessionID
}

// CaseProcessed remembers the case built from this session's diagnosis.
func (r *SessionRecorder) CaseProcessed(res *Result) {
	if r == nil || res == nil || res.Case == nil || res.Case.Metadata == nil {
		return
	}
	r.caseID = res.Case.Metadata.CaseID
}

// Finish stores the final dialogue state.
func (r *SessionRecorder) Finish(state dialogue.State, now time.Time) error {
	if r == nil || r.db == nil || r.session == nil {
		return nil
	}

	s := r.session
	s.Turns = len(state.Turns)
	s.PatientTurns = state.PatientTurns()
	s.Interrupted = state.Interrupted
	s.Terminated = state.ShouldEnd && !state.Interrupted
	if state.Diagnosis != nil {
		s.Diagnosis = *state.Diagnosis
	}
	s.Transcript = make(models.Transcript, 0, len(state.Turns))
	for _, t := range state.Turns {
		s.Transcript = append(s.Transcript, models.TranscriptLine{Role: string(t.Role), Text: t.Text})
	}

	err := models.FinishIntakeSession(r.db, s, now)
	if r.caseID != "" {
		if attachErr := models.AttachCase(r.db, s.SessionID, r.caseID); attachErr != nil {
			err = errors.Join(err, attachErr)
		}
	}
	if err != nil {
		logger.Error("Failed to record intake session", zap.String("sessionID", s.SessionID), zap.Error(err))
	}
	return err
}
