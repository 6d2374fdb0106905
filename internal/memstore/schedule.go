package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

func (s *Store) ListBlocks(_ context.Context, f schedule.BlockFilter) ([]schedule.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schedule.Block
	for _, b := range s.blocks {
		if b.ClinicID != f.ClinicID {
			continue
		}
		if (f.DoctorID == nil) != (b.DoctorID == nil) {
			continue
		}
		if f.DoctorID != nil && *b.DoctorID != *f.DoctorID {
			continue
		}
		if f.Weekday != nil && b.Weekday != *f.Weekday {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (s *Store) GetBlock(_ context.Context, id uuid.UUID) (*schedule.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, schedule.ErrBlockNotFound
	}
	return &b, nil
}

func (s *Store) CreateBlock(_ context.Context, b *schedule.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	s.blocks[b.ID] = *b
	return nil
}

func (s *Store) DeleteBlock(_ context.Context, id uuid.UUID) (*schedule.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, schedule.ErrBlockNotFound
	}
	delete(s.blocks, id)
	return &b, nil
}

func (s *Store) ListExceptions(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to = timerange.NormalizeDate(from), timerange.NormalizeDate(to)
	var out []schedule.Exception
	for _, e := range s.exceptions {
		if e.DoctorID != doctorID || e.Date.Before(from) || e.Date.After(to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) CreateException(_ context.Context, e *schedule.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Date = timerange.NormalizeDate(e.Date)
	s.exceptions[e.ID] = *e
	return nil
}

func (s *Store) DeleteException(_ context.Context, id uuid.UUID) (*schedule.Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exceptions[id]
	if !ok {
		return nil, schedule.ErrExceptionNotFound
	}
	delete(s.exceptions, id)
	return &e, nil
}
