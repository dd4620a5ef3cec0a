package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// Persister is the durable side of the registry.
type Persister interface {
	SaveService(ctx context.Context, svc *domain.Service) error
	SaveServicesMany(ctx context.Context, services []*domain.Service) error
	DeleteService(ctx context.Context, id string) error
	GetAllServices(ctx context.Context) ([]*domain.Service, error)
}

// DeleteHook runs after a service has been removed from the registry.
type DeleteHook func(ctx context.Context, id string) error

// Registry is the authoritative in-memory set of monitored services.
// Every read returns a copy; callers never share state with the registry.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*domain.Service // ID -> Service

	// deleteMu is held for writing by Delete and for reading by Guard.
	deleteMu sync.RWMutex

	store    Persister
	onDelete []DeleteHook
	logger   logger.Logger
	now      func() time.Time
	newID    func() string
}

// New creates an empty registry. store may be nil for a memory-only registry.
func New(store Persister, log logger.Logger) *Registry {
	return &Registry{
		services: make(map[string]*domain.Service),
		store:    store,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// OnDelete registers a cascade step run by Delete.
func (r *Registry) OnDelete(fn DeleteHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDelete = append(r.onDelete, fn)
}

// Load replaces the in-memory set with the persisted one.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	services, err := r.store.GetAllServices(ctx)
	if err != nil {
		return 0, fmt.Errorf("load services: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = make(map[string]*domain.Service, len(services))
	for _, svc := range services {
		r.services[svc.ID] = svc
	}
	return len(services), nil
}

// Get returns the service with id.
func (r *Registry) Get(id string) (*domain.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrServiceNotFound, id)
	}
	return svc.Clone(), nil
}

// List returns every service ordered by name.
func (r *Registry) List() []*domain.Service {
	r.mu.RLock()
	out := make([]*domain.Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IDs returns the id of every service.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListEnabled returns the probe target of every enabled service. It only
// touches memory and is safe to call every sweep.
func (r *Registry) ListEnabled() []domain.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Target, 0, len(r.services))
	for _, svc := range r.services {
		if svc.Enabled {
			out = append(out, svc.Target())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered services.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Create registers a new service. It starts offline with no response time.
func (r *Registry) Create(ctx context.Context, spec domain.ServiceSpec) (*domain.Service, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	svc := domain.NewService(r.newID(), spec, r.now())
	if err := r.persist(ctx, svc); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.services[svc.ID] = svc
	r.mu.Unlock()

	r.logger.Info("service registered",
		logger.String("service_id", svc.ID),
		logger.String("name", svc.Name),
		logger.String("url", svc.URL))
	return svc.Clone(), nil
}

// Seed inserts or replaces services that carry their own ids, such as
// entries imported from a services file.
func (r *Registry) Seed(ctx context.Context, services []*domain.Service) error {
	r.mu.Lock()
	for _, svc := range services {
		if existing, ok := r.services[svc.ID]; ok {
			// Keep what the prober already knows about an unchanged target.
			if existing.URL == svc.URL {
				svc.Status = existing.Status
				svc.LastCheck = existing.LastCheck
				svc.ResponseTime = existing.ResponseTime
			}
			svc.CreatedAt = existing.CreatedAt
		}
		r.services[svc.ID] = svc
	}
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	if err := r.store.SaveServicesMany(ctx, services); err != nil {
		return fmt.Errorf("seed %d services: %w", len(services), err)
	}
	return nil
}

// Update applies a partial update to the service with id.
func (r *Registry) Update(ctx context.Context, id string, patch domain.ServicePatch) (*domain.Service, error) {
	r.mu.Lock()
	current, ok := r.services[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrServiceNotFound, id)
	}
	next := current.Clone()
	if err := next.Apply(patch, r.now()); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.services[id] = next
	r.mu.Unlock()

	if err := r.persist(ctx, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Guard runs fn with a copy of the service while holding off Delete, so
// nothing fn writes for the service can outlive its deletion.
func (r *Registry) Guard(id string, fn func(svc *domain.Service) error) error {
	r.deleteMu.RLock()
	defer r.deleteMu.RUnlock()

	svc, err := r.Get(id)
	if err != nil {
		return err
	}
	return fn(svc)
}

// Delete removes the service and cascades to everything keyed by its id.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.deleteMu.Lock()
	defer r.deleteMu.Unlock()

	r.mu.Lock()
	if _, ok := r.services[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrServiceNotFound, id)
	}
	delete(r.services, id)
	hooks := append([]DeleteHook(nil), r.onDelete...)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteService(ctx, id); err != nil {
			return fmt.Errorf("%w: delete %s: %w", domain.ErrStore, id, err)
		}
	}
	for _, hook := range hooks {
		if err := hook(ctx, id); err != nil {
			r.logger.Warn("cascade delete step failed",
				logger.String("service_id", id),
				logger.Error(err))
		}
	}

	r.logger.Info("service removed", logger.String("service_id", id))
	return nil
}

// ApplyCheck records a probe result on the service. It returns the updated
// copy, or false when the service was deleted while it was being probed.
func (r *Registry) ApplyCheck(id string, res domain.CheckResult) (*domain.Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[id]
	if !ok {
		return nil, false
	}
	next := svc.Clone()
	next.Status = res.Status
	at := res.CheckedAt
	next.LastCheck = &at
	next.ResponseTime = res.ResponseTimeMs
	r.services[id] = next
	return next.Clone(), true
}

// Search ranks services against a free-text query. An empty query
// returns every service.
func (r *Registry) Search(q string) []domain.Match {
	all := r.List()
	if matches := domain.SearchServices(q, all); matches != nil {
		return matches
	}
	if q != "" {
		return []domain.Match{}
	}
	out := make([]domain.Match, len(all))
	for i, svc := range all {
		out[i] = domain.Match{Service: svc}
	}
	return out
}

func (r *Registry) persist(ctx context.Context, svc *domain.Service) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveService(ctx, svc); err != nil {
		return fmt.Errorf("%w: save %s: %w", domain.ErrStore, svc.ID, err)
	}
	return nil
}
