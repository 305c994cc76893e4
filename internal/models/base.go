package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

const (
	CaseStatusSuccess = "success"
	CaseStatusFailed  = "failed"
)

// TranscriptLine 一轮对话记录
type TranscriptLine struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Transcript 以 JSON 形式落库的完整对话
type Transcript []TranscriptLine

// Value 实现 driver.Valuer 接口
func (t Transcript) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan 实现 sql.Scanner 接口
func (t *Transcript) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to convert %T to transcript", value)
	}
	if len(bytes) == 0 {
		*t = nil
		return nil
	}
	return json.Unmarshal(bytes, t)
}
