package appointment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

// ConflictQuery describes a proposed booking. ClinicID scopes who may ask;
// the doctor and patient scopes themselves span every clinic.
type ConflictQuery struct {
	ClinicID  uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	RoomID    *uuid.UUID
	Date      time.Time
	StartTime string
	EndTime   string
	ExcludeID *uuid.UUID
}

func (q ConflictQuery) validate() error {
	if q.DoctorID == uuid.Nil || q.PatientID == uuid.Nil {
		return apperr.Validation("doctor_id and patient_id are required")
	}
	if q.Date.IsZero() {
		return apperr.Validation("date is required")
	}
	if _, err := timerange.ParseRange(q.StartTime, q.EndTime); err != nil {
		return apperr.Validation("time range: %v", err)
	}
	return nil
}

type overlapFinder interface {
	FindOverlapping(ctx context.Context, q OverlapQuery) ([]Appointment, error)
}

// FindConflicts checks the doctor, room (when set) and patient scopes and
// returns one reason per colliding scope. An empty result means no conflict.
func FindConflicts(ctx context.Context, finder overlapFinder, q ConflictQuery) ([]string, error) {
	date := timerange.NormalizeDate(q.Date)
	base := OverlapQuery{Date: date, StartTime: q.StartTime, EndTime: q.EndTime, ExcludeID: q.ExcludeID}

	type scope struct {
		name  string
		query OverlapQuery
	}
	doctorQ, patientQ := base, base
	doctorQ.DoctorID = &q.DoctorID
	patientQ.PatientID = &q.PatientID
	scopes := []scope{{"doctor", doctorQ}}
	if q.RoomID != nil {
		roomQ := base
		roomQ.RoomID = q.RoomID
		scopes = append(scopes, scope{"room", roomQ})
	}
	scopes = append(scopes, scope{"patient", patientQ})

	var reasons []string
	for _, s := range scopes {
		hits, err := finder.FindOverlapping(ctx, s.query)
		if err != nil {
			return nil, fmt.Errorf("find %s overlaps: %w", s.name, err)
		}
		if len(hits) == 0 {
			continue
		}
		reasons = append(reasons, conflictReason(s.name, date, hits))
	}
	return reasons, nil
}

func conflictReason(scope string, date time.Time, hits []Appointment) string {
	ranges := make([]string, 0, len(hits))
	for _, h := range hits {
		ranges = append(ranges, h.StartTime+"-"+h.EndTime)
	}
	sort.Strings(ranges)
	return fmt.Sprintf("%s already has an appointment on %s at %s",
		scope, timerange.FormatDate(date), strings.Join(ranges, ", "))
}

// lockKeys are the serialization scopes for a booking, sorted so concurrent
// transactions always acquire them in the same order.
func lockKeys(doctorID, patientID uuid.UUID, roomID *uuid.UUID, date time.Time) []string {
	d := timerange.FormatDate(date)
	keys := []string{
		"doctor:" + doctorID.String() + ":" + d,
		"patient:" + patientID.String() + ":" + d,
	}
	if roomID != nil {
		keys = append(keys, "room:"+roomID.String()+":"+d)
	}
	sort.Strings(keys)
	return keys
}
