package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/i474232898/pollen-sync/internal/logging"
	"github.com/i474232898/pollen-sync/internal/pollen"
	"github.com/i474232898/pollen-sync/internal/store"
)

// Service owns the canonical store for long-running callers (scheduler and
// HTTP API). Sync runs are serialized so the store has a single writer.
type Service struct {
	coordinator *Coordinator
	now         func() time.Time

	runMu sync.Mutex

	mu   sync.RWMutex
	last *Report
}

// NewService creates a new Service.
func NewService(coordinator *Coordinator) *Service {
	return &Service{
		coordinator: coordinator,
		now:         time.Now,
	}
}

// Sync resolves the window against the current date and runs one pass.
func (s *Service) Sync(ctx context.Context, spec WindowSpec) (*Report, error) {
	w, err := spec.Resolve(s.now())
	if err != nil {
		return nil, err
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	rep, err := s.coordinator.Run(ctx, w)
	if rep != nil {
		rep.Log()
		s.mu.Lock()
		s.last = rep
		s.mu.Unlock()
	}
	return rep, err
}

// LastReport returns the report of the most recent run, if any.
func (s *Service) LastReport() (*Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.last != nil
}

// Observations returns stored observations of a city (all cities when empty)
// between from and to, inclusive.
func (s *Service) Observations(city string, from, to time.Time) ([]pollen.Observation, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	return st.Range(city, from, to)
}

// Distribution summarizes stored observations by level, optionally for one city.
func (s *Service) Distribution(city string) ([]pollen.CityDistribution, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}

	obs := st.Observations()
	if city != "" {
		filtered := obs[:0]
		for _, o := range obs {
			if o.City == city {
				filtered = append(filtered, o)
			}
		}
		obs = filtered
	}
	if len(obs) == 0 {
		return nil, store.ErrNotFound
	}
	return pollen.Distribution(obs), nil
}

func (s *Service) load() (*store.RecordStore, error) {
	opts := s.coordinator.Options()
	st, err := store.Load(opts.StorePath, opts.File)
	if err != nil {
		var le *store.LoadError
		if errors.As(err, &le) && !errors.Is(err, store.ErrMissingFile) {
			logging.Warn().Err(err).Msg("store unreadable for query")
		}
		return nil, store.ErrNotFound
	}
	return st, nil
}
