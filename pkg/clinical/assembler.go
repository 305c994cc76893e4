package clinical

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyStamped 元数据每次运行只能写入一次
var ErrAlreadyStamped = errors.New("case record already stamped")

// Assembler stamps metadata onto freshly built case records.
type Assembler struct {
	Now   func() time.Time
	NewID func() string
}

// NewAssembler returns an assembler using the wall clock and random uuids.
func NewAssembler() *Assembler {
	return &Assembler{Now: time.Now, NewID: uuid.NewString}
}

// Stamp returns a copy of record carrying id, timestamp, counts and the
// enhanced flag. The input record is left untouched.
func (a *Assembler) Stamp(record *CaseRecord, enhanced bool) (*CaseRecord, error) {
	if record == nil {
		return nil, errors.New("nil case record")
	}
	if record.Metadata != nil {
		return nil, ErrAlreadyStamped
	}

	now, newID := time.Now, uuid.NewString
	if a != nil && a.Now != nil {
		now = a.Now
	}
	if a != nil && a.NewID != nil {
		newID = a.NewID
	}

	out := record.Clone()
	out.Metadata = &Metadata{
		CaseID:            newID(),
		CreatedAt:         now().UTC(),
		EntityCount:       len(out.Entities),
		RelationshipCount: len(out.Relationships),
		Enhanced:          enhanced,
	}
	return out, nil
}
