package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Ivanworkspace/events-futurecraft/pkg/agenda"
	"github.com/Ivanworkspace/events-futurecraft/pkg/config"
	"github.com/Ivanworkspace/events-futurecraft/pkg/local"
	"github.com/Ivanworkspace/events-futurecraft/pkg/metrics"
	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

// Collection is a remote document collection of appointments.
type Collection interface {
	List(ctx context.Context) ([]model.Appointment, error)
	// Create stores doc and returns the key the backend assigned to it.
	Create(ctx context.Context, doc model.Document) (string, error)
	Update(ctx context.Context, id string, patch model.Patch) error
	Delete(ctx context.Context, id string) error
}

// Mode is the persistence backend a Store was started with.
type Mode int

const (
	LocalOnly Mode = iota
	Remote
)

func (m Mode) String() string {
	if m == Remote {
		return "remote"
	}
	return "local"
}

// Options configures a Store. Only Remote changes the Mode; the rest have defaults.
type Options struct {
	// Remote selects Remote mode when non-nil.
	Remote   Collection
	Breaker  config.BreakerConfig
	Logger   *zap.Logger
	Metrics  *metrics.Collector
	Labels   agenda.Labels
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
}

// Store owns the in-memory appointment collection and keeps it in sync with
// the active backend. Operations are serialized, remote call included.
type Store struct {
	mu      sync.Mutex
	items   []model.Appointment
	local   *local.Store
	remote  Collection
	breaker *gobreaker.CircuitBreaker

	logger  *zap.Logger
	metrics *metrics.Collector
	labels  agenda.Labels
	loc     *time.Location
	now     func() time.Time
	newID   func() string
}

// New returns a Store persisting to localStore, and to opts.Remote when set.
func New(localStore *local.Store, opts Options) *Store {
	s := &Store{
		items:   []model.Appointment{},
		local:   localStore,
		remote:  opts.Remote,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		labels:  opts.Labels,
		loc:     opts.Location,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.labels.Today == "" {
		s.labels = agenda.Italian
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.remote != nil {
		s.breaker = newBreaker(opts.Breaker, s.logger)
	}
	return s
}

func newBreaker(cfg config.BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-appointments",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// a missing document means the backend answered
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, model.ErrNotFound)
		},
	})
}

func (s *Store) Mode() Mode {
	if s.remote != nil {
		return Remote
	}
	return LocalOnly
}

// call runs fn against the remote backend through the breaker. The caller's
// cancellation is dropped: once dispatched, a remote operation runs to completion.
func (s *Store) call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx = context.WithoutCancel(ctx)
	return s.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
}

// Load replaces the in-memory collection with the backend's. A failing remote
// falls back to local storage.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remote != nil {
		list, err := s.fetchRemote(ctx)
		if err == nil {
			s.setItems(list)
			return
		}
		s.logger.Warn("could not load remote appointments, using local storage", zap.Error(err))
		s.metrics.RecordFallback("load")
	}
	s.setItems(s.local.Load())
}

// Refresh re-reads the remote collection. On failure the current collection is kept.
func (s *Store) Refresh(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.fetchRemote(ctx)
	if err != nil {
		s.logger.Warn("could not refresh remote appointments", zap.Error(err))
		return err
	}
	s.setItems(list)
	return nil
}

func (s *Store) fetchRemote(ctx context.Context) ([]model.Appointment, error) {
	res, err := s.call(ctx, func(ctx context.Context) (any, error) {
		return s.remote.List(ctx)
	})
	if err != nil {
		return nil, err
	}
	list, _ := res.([]model.Appointment)
	return list, nil
}

// Add validates fields and appends a new appointment. Only invalid input is
// reported as an error; a failing remote degrades to a locally saved item.
func (s *Store) Add(ctx context.Context, fields model.Fields) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields = fields.Normalize(model.DateKey(s.now().In(s.loc)))
	if err := fields.Validate(); err != nil {
		return model.Appointment{}, err
	}
	doc := fields.Document()

	if s.remote != nil {
		res, err := s.call(ctx, func(ctx context.Context) (any, error) {
			return s.remote.Create(ctx, doc)
		})
		id, _ := res.(string)
		if err == nil && id == "" {
			err = errors.New("remote returned an empty id")
		}
		if err == nil {
			apt := doc.WithID(id)
			s.append(apt)
			return apt, nil
		}
		s.logger.Warn("could not create remote appointment, saving locally", zap.Error(err))
		s.metrics.RecordFallback("add")
	}

	apt := doc.WithID(s.newID())
	s.append(apt)
	s.saveLocal()
	return apt, nil
}

// ToggleDone flips the done flag of id. ok is false for an unknown id, in
// which case nothing changes.
func (s *Store) ToggleDone(ctx context.Context, id string) (apt model.Appointment, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return model.Appointment{}, false
	}
	done := !s.items[i].Done

	if s.remote != nil {
		_, err := s.call(ctx, func(ctx context.Context) (any, error) {
			return nil, s.remote.Update(ctx, id, model.Patch{Done: &done})
		})
		s.items[i].Done = done
		s.metrics.RecordMutation("toggle")
		if err != nil {
			s.logger.Warn("could not update remote appointment, saving locally", zap.String("id", id), zap.Error(err))
			s.metrics.RecordFallback("toggle")
			s.saveLocal()
		}
		return s.items[i], true
	}

	s.items[i].Done = done
	s.metrics.RecordMutation("toggle")
	s.saveLocal()
	return s.items[i], true
}

// Remove deletes id. ok is false for an unknown id, in which case nothing changes.
func (s *Store) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return false
	}

	if s.remote != nil {
		_, err := s.call(ctx, func(ctx context.Context) (any, error) {
			return nil, s.remote.Delete(ctx, id)
		})
		s.delete(i)
		if err != nil {
			s.logger.Warn("could not delete remote appointment, saving locally", zap.String("id", id), zap.Error(err))
			s.metrics.RecordFallback("remove")
			s.saveLocal()
		}
		return true
	}

	s.delete(i)
	s.saveLocal()
	return true
}

// View returns the collection grouped by day, labelled against the current time.
func (s *Store) View() []agenda.DayGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return agenda.GroupByDay(s.items, s.now().In(s.loc), s.labels)
}

// Overdue returns the pending appointments whose slot has already passed.
func (s *Store) Overdue() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return agenda.Overdue(s.items, s.now().In(s.loc))
}

// Items returns a copy of the collection in insertion order.
func (s *Store) Items() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Get returns the appointment with the given id.
func (s *Store) Get(id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(id); i >= 0 {
		return s.items[i], nil
	}
	return model.Appointment{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
}

func (s *Store) index(id string) int {
	return slices.IndexFunc(s.items, func(a model.Appointment) bool { return a.ID == id })
}

func (s *Store) setItems(list []model.Appointment) {
	if list == nil {
		list = []model.Appointment{}
	}
	s.items = list
	s.metrics.SetAppointments(len(s.items))
}

func (s *Store) append(apt model.Appointment) {
	s.items = append(s.items, apt)
	s.metrics.RecordMutation("add")
	s.metrics.SetAppointments(len(s.items))
}

func (s *Store) delete(i int) {
	s.items = slices.Delete(s.items, i, i+1)
	s.metrics.RecordMutation("remove")
	s.metrics.SetAppointments(len(s.items))
}

// saveLocal writes the collection to local storage. Failures are logged only.
func (s *Store) saveLocal() {
	if err := s.local.Save(s.items); err != nil {
		s.logger.Warn("could not save appointments locally", zap.Error(err))
		s.metrics.RecordLocalSaveError()
	}
}
