// Package memory keeps every repository in process memory. It backs the
// "memory" database driver for local runs and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository"
)

// Store holds all tables behind one RWMutex. Units of work for one nutritionist
// are additionally serialised by a per-nutritionist mutex.
type Store struct {
	mu           sync.RWMutex
	availability map[uuid.UUID][]*model.AvailabilitySlot
	appointments map[uuid.UUID]*model.Appointment
	links        map[[2]uuid.UUID]bool
	users        map[uuid.UUID]*model.UserSummary
	outbox       []*model.OutboxEvent

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
	global  sync.Mutex
}

func NewStore() *Store {
	return &Store{
		availability: make(map[uuid.UUID][]*model.AvailabilitySlot),
		appointments: make(map[uuid.UUID]*model.Appointment),
		links:        make(map[[2]uuid.UUID]bool),
		users:        make(map[uuid.UUID]*model.UserSummary),
		locks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

// Link records an active patient-nutritionist relationship.
func (s *Store) Link(patientID, nutritionistID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[[2]uuid.UUID{patientID, nutritionistID}] = true
}

func (s *Store) Unlink(patientID, nutritionistID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, [2]uuid.UUID{patientID, nutritionistID})
}

func (s *Store) AddUser(u *model.UserSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// OutboxEvents returns a snapshot of every recorded event.
func (s *Store) OutboxEvents() []*model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.OutboxEvent, len(s.outbox))
	for i, e := range s.outbox {
		cp := *e
		out[i] = &cp
	}
	return out
}

type txKey struct{}

func (s *Store) nutritionistLock(id uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Transactor serialises units of work. Changes are applied as they happen;
// there is no rollback, so callers validate before writing.
type Transactor struct {
	store *Store
}

func (s *Store) Transactor() repository.Transactor { return &Transactor{store: s} }

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.store.global.Lock()
	defer t.store.global.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

func (t *Transactor) WithinNutritionistTx(ctx context.Context, nutritionistID uuid.UUID, fn func(ctx context.Context) error) error {
	l := t.store.nutritionistLock(nutritionistID)
	l.Lock()
	defer l.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

func (t *Transactor) Ping(ctx context.Context) error { return ctx.Err() }

// Availability

type AvailabilityRepository struct{ store *Store }

func (s *Store) Availability() repository.AvailabilityRepository {
	return &AvailabilityRepository{store: s}
}

func (r *AvailabilityRepository) Replace(_ context.Context, nutritionistID uuid.UUID, slots []*model.AvailabilitySlot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	copies := make([]*model.AvailabilitySlot, len(slots))
	for i, slot := range slots {
		cp := *slot
		copies[i] = &cp
	}
	r.store.availability[nutritionistID] = copies
	return nil
}

func (r *AvailabilityRepository) list(nutritionistID uuid.UUID, keep func(*model.AvailabilitySlot) bool) []*model.AvailabilitySlot {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := []*model.AvailabilitySlot{}
	for _, slot := range r.store.availability[nutritionistID] {
		if keep(slot) {
			cp := *slot
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		if out[i].StartMinute != out[j].StartMinute {
			return out[i].StartMinute < out[j].StartMinute
		}
		return out[i].EndMinute < out[j].EndMinute
	})
	return out
}

func (r *AvailabilityRepository) List(_ context.Context, nutritionistID uuid.UUID) ([]*model.AvailabilitySlot, error) {
	return r.list(nutritionistID, func(*model.AvailabilitySlot) bool { return true }), nil
}

func (r *AvailabilityRepository) ListActive(_ context.Context, nutritionistID uuid.UUID) ([]*model.AvailabilitySlot, error) {
	return r.list(nutritionistID, func(s *model.AvailabilitySlot) bool { return s.IsActive }), nil
}

func (r *AvailabilityRepository) ListActiveForDay(_ context.Context, nutritionistID uuid.UUID, day model.DayOfWeek) ([]*model.AvailabilitySlot, error) {
	return r.list(nutritionistID, func(s *model.AvailabilitySlot) bool {
		return s.IsActive && s.DayOfWeek == day
	}), nil
}

// Appointments

type AppointmentRepository struct{ store *Store }

func (s *Store) Appointments() repository.AppointmentRepository {
	return &AppointmentRepository{store: s}
}

func (r *AppointmentRepository) Create(_ context.Context, appointment *model.Appointment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if appointment.Status == model.StatusScheduled {
		for _, existing := range r.store.appointments {
			if existing.NutritionistID == appointment.NutritionistID &&
				existing.Status == model.StatusScheduled &&
				existing.Overlaps(appointment.StartTime, appointment.EndTime) {
				return repository.ErrOverlap
			}
		}
	}

	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	now := time.Now().UTC()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	cp := *appointment
	r.store.appointments[cp.ID] = &cp
	return nil
}

func (r *AppointmentRepository) Get(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	a, ok := r.store.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// GetForUpdate relies on the caller holding the nutritionist's unit-of-work lock.
func (r *AppointmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.Get(ctx, id)
}

func (r *AppointmentRepository) Update(_ context.Context, appointment *model.Appointment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.appointments[appointment.ID]; !ok {
		return repository.ErrNotFound
	}
	appointment.UpdatedAt = time.Now().UTC()
	cp := *appointment
	r.store.appointments[cp.ID] = &cp
	return nil
}

func (r *AppointmentRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.appointments[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.store.appointments, id)
	return nil
}

func (r *AppointmentRepository) List(_ context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := []*model.Appointment{}
	for _, a := range r.store.appointments {
		if filter.PatientID != nil && a.PatientID != *filter.PatientID {
			continue
		}
		if filter.NutritionistID != nil && a.NutritionistID != *filter.NutritionistID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.To != nil && !a.StartTime.Before(*filter.To) {
			continue
		}
		if filter.From != nil && !a.EndTime.After(*filter.From) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *AppointmentRepository) HasOverlap(_ context.Context, nutritionistID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, a := range r.store.appointments {
		if a.NutritionistID != nutritionistID || a.Status != model.StatusScheduled {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

// Relationships and users

type RelationshipRepository struct{ store *Store }

func (s *Store) Relationships() repository.RelationshipRepository {
	return &RelationshipRepository{store: s}
}

func (r *RelationshipRepository) IsActivelyLinked(_ context.Context, patientID, nutritionistID uuid.UUID) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.links[[2]uuid.UUID{patientID, nutritionistID}], nil
}

type UserRepository struct{ store *Store }

func (s *Store) Users() repository.UserRepository {
	return &UserRepository{store: s}
}

func (r *UserRepository) GetSummaries(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.UserSummary, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make(map[uuid.UUID]*model.UserSummary, len(ids))
	for _, id := range ids {
		if u, ok := r.store.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

// Outbox

type OutboxRepository struct{ store *Store }

func (s *Store) Outbox() repository.OutboxRepository {
	return &OutboxRepository{store: s}
}

func (r *OutboxRepository) Create(_ context.Context, event *model.OutboxEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	event.ID = uuid.New()
	event.CreatedAt = time.Now().UTC()
	event.UpdatedAt = event.CreatedAt
	event.Status = model.OutboxStatusPending

	cp := *event
	r.store.outbox = append(r.store.outbox, &cp)
	return nil
}

func (r *OutboxRepository) GetPendingEventsWithLock(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	now := time.Now()
	out := []*model.OutboxEvent{}
	for _, e := range r.store.outbox {
		if len(out) >= limit {
			break
		}
		if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (r *OutboxRepository) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, e := range r.store.outbox {
		if e.ID != id {
			continue
		}
		now := time.Now().UTC()
		e.Status = status
		e.ErrorMessage = errorMessage
		e.RetryAt = retryAt
		e.UpdatedAt = now
		if status == model.OutboxStatusRetry {
			e.RetryCount++
		}
		if status == model.OutboxStatusProcessed {
			e.ProcessedAt = &now
		}
		return nil
	}
	return repository.ErrNotFound
}

func (r *OutboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.outbox[:0]
	var deleted int64
	for _, e := range r.store.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.store.outbox = kept
	return deleted, nil
}
