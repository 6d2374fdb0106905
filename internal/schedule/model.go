package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Block is a recurring weekly availability window. A block with no DoctorID
// belongs to the clinic and is inherited by doctors who have no blocks of
// their own on that weekday.
type Block struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	DoctorID  *uuid.UUID
	Weekday   int // 0=Sunday..6=Saturday
	StartTime string
	EndTime   string
	CreatedAt time.Time
}

func (b Block) IsClinicWide() bool { return b.DoctorID == nil }

func (b Block) String() string {
	owner := "clinic " + b.ClinicID.String()
	if b.DoctorID != nil {
		owner = "doctor " + b.DoctorID.String()
	}
	return fmt.Sprintf("%s weekday=%d %s-%s", owner, b.Weekday, b.StartTime, b.EndTime)
}

// Exception overrides a doctor's availability on one calendar day. Without
// start and end it blocks the whole day. Exceptions are never updated in
// place.
type Exception struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime *string
	EndTime   *string
	Reason    *string
	CreatedAt time.Time
}

func (e Exception) IsFullDay() bool { return e.StartTime == nil && e.EndTime == nil }

// BlockFilter selects blocks. A nil DoctorID selects clinic-wide blocks only.
type BlockFilter struct {
	ClinicID uuid.UUID
	DoctorID *uuid.UUID
	Weekday  *int
}
