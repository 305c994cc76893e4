package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClinicalCase 一次图谱构建的结果记录
type ClinicalCase struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`

	CaseID         string `json:"caseId" gorm:"size:64;uniqueIndex"`
	ChiefComplaint string `json:"chiefComplaint" gorm:"type:text"`
	Status         string `json:"status" gorm:"size:16;index"`
	Error          string `json:"error,omitempty" gorm:"type:text"`
	Enhanced       bool   `json:"enhanced"`

	EntityCount       int `json:"entityCount"`
	RelationshipCount int `json:"relationshipCount"`
	StatementCount    int `json:"statementCount"`

	// 执行结果，未连接图数据库时为 0
	Executed     bool  `json:"executed"`
	SuccessCount int   `json:"successCount"`
	ErrorCount   int   `json:"errorCount"`
	ZeroEffect   int   `json:"zeroEffect"`
	ElapsedMs    int64 `json:"elapsedMs"`

	ArtifactKey   string `json:"artifactKey,omitempty" gorm:"size:255"`
	StatementsKey string `json:"statementsKey,omitempty" gorm:"size:255"`
	Record        string `json:"-" gorm:"type:text"` // 病例 JSON
}

// SaveClinicalCase 按 CaseID 插入或更新
func SaveClinicalCase(db *gorm.DB, c *ClinicalCase) error {
	if c == nil || c.CaseID == "" {
		return errors.New("clinical case requires a case id")
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "case_id"}},
		UpdateAll: true,
	}).Create(c).Error
}

// GetClinicalCase 根据 CaseID 查询
func GetClinicalCase(db *gorm.DB, caseID string) (*ClinicalCase, error) {
	var c ClinicalCase
	if err := db.Where("case_id = ?", caseID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClinicalCases 按创建时间倒序列出最近的病例
func ListClinicalCases(db *gorm.DB, limit int) ([]ClinicalCase, error) {
	if limit <= 0 {
		limit = 20
	}
	var cases []ClinicalCase
	err := db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&cases).Error
	return cases, err
}

// CaseStatusCounts 各状态的病例数量
func CaseStatusCounts(db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := db.Model(&ClinicalCase{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
