package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// IntakeSession 一次问诊会话
type IntakeSession struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`

	SessionID    string     `json:"sessionId" gorm:"size:64;uniqueIndex"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	PatientTurns int        `json:"patientTurns"`
	Turns        int        `json:"turns"`
	Interrupted  bool       `json:"interrupted"`
	Terminated   bool       `json:"terminated"` // 由结束判定策略正常结束
	Diagnosis    string     `json:"diagnosis,omitempty" gorm:"type:text"`
	Transcript   Transcript `json:"transcript" gorm:"type:text"`
	CaseID       string     `json:"caseId,omitempty" gorm:"size:64;index"` // 关联生成的病例
}

// CreateIntakeSession 记录会话开始
func CreateIntakeSession(db *gorm.DB, sessionID string, startedAt time.Time) (*IntakeSession, error) {
	if sessionID == "" {
		return nil, errors.New("intake session requires a session id")
	}
	s := &IntakeSession{SessionID: sessionID, StartedAt: startedAt}
	if err := db.Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// FinishIntakeSession 写入会话结束时的状态
func FinishIntakeSession(db *gorm.DB, s *IntakeSession, endedAt time.Time) error {
	if s == nil || s.ID == 0 {
		return errors.New("intake session has not been created")
	}
	s.EndedAt = &endedAt
	return db.Save(s).Error
}

// GetIntakeSession 根据 SessionID 查询
func GetIntakeSession(db *gorm.DB, sessionID string) (*IntakeSession, error) {
	var s IntakeSession
	if err := db.Where("session_id = ?", sessionID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// AttachCase 关联会话生成的病例
func AttachCase(db *gorm.DB, sessionID, caseID string) error {
	res := db.Model(&IntakeSession{}).Where("session_id = ?", sessionID).Update("case_id", caseID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
