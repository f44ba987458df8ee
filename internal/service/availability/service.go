package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository"
	"github.com/nutricoach/scheduling-api/internal/service/event"
	apperrors "github.com/nutricoach/scheduling-api/pkg/errors"
	"github.com/nutricoach/scheduling-api/pkg/logger"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
)

const cacheName = "availability"

// Service is the store of recurring weekly availability.
// Writes always replace the whole week of a nutritionist.
type Service struct {
	repo    repository.AvailabilityRepository
	tx      repository.Transactor
	events  event.Emitter
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	cache *cache.Cache
	// generations stops a read that started before a Replace from caching
	// the set that Replace discarded.
	genMu       sync.Mutex
	generations map[uuid.UUID]uint64
}

type Option func(*Service)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService caches active slots for cacheTTL; a non-positive TTL disables the cache.
func NewService(
	repo repository.AvailabilityRepository,
	tx repository.Transactor,
	events event.Emitter,
	cacheTTL time.Duration,
	logger *logger.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Service {
	s := &Service{
		repo:    repo,
		tx:      tx,
		events:  events,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	if cacheTTL > 0 {
		s.cache = cache.New(cacheTTL, 2*cacheTTL)
		s.generations = make(map[uuid.UUID]uint64)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type slotKey struct {
	day        model.DayOfWeek
	start, end int
}

// ValidateSlots checks every slot and stops at the first violation,
// naming the offending day.
func ValidateSlots(inputs []model.AvailabilitySlotInput) error {
	seen := make(map[slotKey]bool, len(inputs))
	for _, in := range inputs {
		if !in.DayOfWeek.Valid() {
			return apperrors.NewInvalidSlotRange(in.DayOfWeek.String(), "unknown day of week")
		}
		day := in.DayOfWeek.String()
		if in.StartMinute < 0 || in.StartMinute > model.MinutesPerDay {
			return apperrors.NewInvalidSlotRange(day, "start_minute must be between 0 and 1440")
		}
		if in.EndMinute < 0 || in.EndMinute > model.MinutesPerDay {
			return apperrors.NewInvalidSlotRange(day, "end_minute must be between 0 and 1440")
		}
		if in.EndMinute <= in.StartMinute {
			return apperrors.NewInvalidSlotRange(day, "end_minute must be after start_minute")
		}
		if in.Active() {
			key := slotKey{in.DayOfWeek, in.StartMinute, in.EndMinute}
			if seen[key] {
				return apperrors.NewInvalidSlotRange(day, "duplicate active slot")
			}
			seen[key] = true
		}
	}
	return nil
}

// Replace validates inputs, then atomically discards every slot of the
// nutritionist and stores the new set. An empty set clears availability.
func (s *Service) Replace(ctx context.Context, actor model.Identity, nutritionistID uuid.UUID, inputs []model.AvailabilitySlotInput) ([]*model.AvailabilitySlot, error) {
	if err := ValidateSlots(inputs); err != nil {
		s.metrics.SchedulingRejections.WithLabelValues("manage_availability", apperrors.Code(err).String()).Inc()
		return nil, err
	}

	createdAt := s.now().UTC()
	slots := make([]*model.AvailabilitySlot, len(inputs))
	active := 0
	for i, in := range inputs {
		slots[i] = &model.AvailabilitySlot{
			ID:             uuid.New(),
			NutritionistID: nutritionistID,
			DayOfWeek:      in.DayOfWeek,
			StartMinute:    in.StartMinute,
			EndMinute:      in.EndMinute,
			IsActive:       in.Active(),
			CreatedAt:      createdAt,
		}
		if slots[i].IsActive {
			active++
		}
	}

	err := s.tx.WithinNutritionistTx(ctx, nutritionistID, func(ctx context.Context) error {
		if err := s.repo.Replace(ctx, nutritionistID, slots); err != nil {
			return err
		}
		return s.events.Emit(ctx, event.AvailabilityReplaced, nutritionistID, event.AvailabilityPayload{
			NutritionistID: nutritionistID,
			SlotCount:      len(slots),
			ActiveCount:    active,
		})
	})
	if err != nil {
		s.logger.Error(err, "Failed to replace availability", "nutritionist_id", nutritionistID.String())
		return nil, apperrors.NewInternal(err)
	}

	s.invalidate(nutritionistID)
	s.metrics.AvailabilityReplacements.Inc()
	s.logger.Info("Availability replaced",
		"nutritionist_id", nutritionistID.String(),
		"slots", len(slots),
		"actor_id", actor.CallerID.String())

	sortSlots(slots)
	return slots, nil
}

// List returns every slot of the nutritionist, inactive ones included.
func (s *Service) List(ctx context.Context, nutritionistID uuid.UUID) ([]*model.AvailabilitySlot, error) {
	slots, err := s.repo.List(ctx, nutritionistID)
	if err != nil {
		s.logger.Error(err, "Failed to list availability", "nutritionist_id", nutritionistID.String())
		return nil, apperrors.NewInternal(err)
	}
	return slots, nil
}

// ListActive returns active slots ordered by (day, start minute). It is the
// only cached read: the cache is local to the process, so nothing that decides
// a booking goes through it.
func (s *Service) ListActive(ctx context.Context, nutritionistID uuid.UUID) ([]*model.AvailabilitySlot, error) {
	key := nutritionistID.String()
	var gen uint64
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.metrics.CacheLookups.WithLabelValues(cacheName, "hit").Inc()
			return cloneSlots(cached.([]*model.AvailabilitySlot)), nil
		}
		s.metrics.CacheLookups.WithLabelValues(cacheName, "miss").Inc()
		gen = s.generation(nutritionistID)
	}

	slots, err := s.repo.ListActive(ctx, nutritionistID)
	if err != nil {
		s.logger.Error(err, "Failed to list active availability", "nutritionist_id", key)
		return nil, apperrors.NewInternal(err)
	}

	if s.cache != nil {
		s.genMu.Lock()
		if s.generations[nutritionistID] == gen {
			s.cache.SetDefault(key, cloneSlots(slots))
		}
		s.genMu.Unlock()
	}
	return slots, nil
}

// ListActiveForDay returns the active slots of one weekday ordered by start
// minute, always read from the store. Slot generation and the booking
// containment check depend on it.
func (s *Service) ListActiveForDay(ctx context.Context, nutritionistID uuid.UUID, day model.DayOfWeek) ([]*model.AvailabilitySlot, error) {
	slots, err := s.repo.ListActiveForDay(ctx, nutritionistID, day)
	if err != nil {
		s.logger.Error(err, "Failed to list active availability", "nutritionist_id", nutritionistID.String(), "day", day.String())
		return nil, apperrors.NewInternal(err)
	}
	sortSlots(slots)
	return slots, nil
}

func (s *Service) generation(nutritionistID uuid.UUID) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[nutritionistID]
}

func (s *Service) invalidate(nutritionistID uuid.UUID) {
	if s.cache == nil {
		return
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.generations[nutritionistID]++
	s.cache.Delete(nutritionistID.String())
}

func sortSlots(slots []*model.AvailabilitySlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].DayOfWeek != slots[j].DayOfWeek {
			return slots[i].DayOfWeek < slots[j].DayOfWeek
		}
		if slots[i].StartMinute != slots[j].StartMinute {
			return slots[i].StartMinute < slots[j].StartMinute
		}
		return slots[i].EndMinute < slots[j].EndMinute
	})
}

func cloneSlots(in []*model.AvailabilitySlot) []*model.AvailabilitySlot {
	out := make([]*model.AvailabilitySlot, len(in))
	for i, slot := range in {
		cp := *slot
		out[i] = &cp
	}
	return out
}
