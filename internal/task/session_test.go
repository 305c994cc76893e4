package task

import (
	"testing"
	"time"

	"github.com/code-100-precent/MedIntake/internal/models"
	"github.com/code-100-precent/MedIntake/pkg/clinical"
	"github.com/code-100-precent/MedIntake/pkg/dialogue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRecorder(t *testing.T) {
	db := setupDB(t)
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	rec := StartSession(db, start)
	require.NotEmpty(t, rec.SessionID())

	diagnosis := "Likely hyperemesis gravidarum"
	state := dialogue.State{
		Phase: dialogue.Done,
		Turns: []dialogue.Turn{
			{Role: dialogue.RolePatient, Text: "I throw up every morning"},
			{Role: dialogue.RoleAssistant, Text: "Anything else?"},
			{Role: dialogue.RolePatient, Text: "no"},
		},
		ShouldEnd: true,
		Diagnosis: &diagnosis,
	}
	rec.CaseProcessed(&Result{Case: &clinical.CaseRecord{Metadata: &clinical.Metadata{CaseID: "case-9"}}})
	require.NoError(t, rec.Finish(state, start.Add(3*time.Minute)))

	got, err := models.GetIntakeSession(db, rec.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 3, got.Turns)
	assert.Equal(t, 2, got.PatientTurns)
	assert.True(t, got.Terminated)
	assert.False(t, got.Interrupted)
	assert.Equal(t, diagnosis, got.Diagnosis)
	assert.Equal(t, "case-9", got.CaseID)
	require.Len(t, got.Transcript, 3)
	assert.Equal(t, models.TranscriptLine{Role: "patient", Text: "I throw up every morning"}, got.Transcript[0])
}

func TestSessionRecorder_NoDatabase(t *testing.T) {
	rec := StartSession(nil, time.Now())
	assert.Empty(t, rec.SessionID())
	rec.CaseProcessed(nil)
	assert.NoError(t, rec.Finish(dialogue.NewState(), time.Now()))

	var nilRec *SessionRecorder
	assert.NoError(t, nilRec.Finish(dialogue.NewState(), time.Now()))
}
