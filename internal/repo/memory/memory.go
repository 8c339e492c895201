package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	mu        sync.RWMutex
	targets   map[domain.TargetID]*domain.Target
	results   []domain.CheckRecord
	schedules map[domain.TargetID]domain.ScheduleState
	nextID    int64
}

func New() *Store {
	return &Store{
		targets:   make(map[domain.TargetID]*domain.Target),
		results:   make([]domain.CheckRecord, 0, 128),
		schedules: make(map[domain.TargetID]domain.ScheduleState),
	}
}

func (m *Store) Close() error { return nil }

// ---- TargetStore ----

func (m *Store) Add(ctx context.Context, t *domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = domain.NewTargetID()
	}
	if _, ok := m.targets[t.ID]; ok {
		return repo.ErrConflict
	}
	for _, existing := range m.targets {
		if existing.URL == t.URL {
			return repo.ErrConflict
		}
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	cp := cloneTarget(*t)
	m.targets[t.ID] = &cp
	return nil
}

func (m *Store) List(ctx context.Context) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, cloneTarget(*t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Store) GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := cloneTarget(*t)
	return &cp, nil
}

func (m *Store) GetByURL(ctx context.Context, url string) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.targets {
		if t.URL == url {
			cp := cloneTarget(*t)
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *Store) Patch(ctx context.Context, id domain.TargetID, p domain.TargetPatch) (*domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if p.URL != nil {
		for oid, other := range m.targets {
			if oid != id && other.URL == *p.URL {
				return nil, repo.ErrConflict
			}
		}
	}
	p.Apply(t)
	t.UpdatedAt = time.Now().UTC()
	cp := cloneTarget(*t)
	return &cp, nil
}

func (m *Store) Delete(ctx context.Context, id domain.TargetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.targets, id)
	kept := m.results[:0]
	for _, r := range m.results {
		if r.TargetID != id {
			kept = append(kept, r)
		}
	}
	m.results = kept
	return nil
}

func (m *Store) UpdateTargetRunState(ctx context.Context, id domain.TargetID, isRunning bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return repo.ErrNotFound
	}
	t.IsRunning = isRunning
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Store) UpdateTargetFailureState(ctx context.Context, id domain.TargetID, consecutiveFailures int, activeAlert bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return repo.ErrNotFound
	}
	t.ConsecutiveFailures = consecutiveFailures
	t.ActiveAlert = activeAlert
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- ResultStore ----

func (m *Store) InsertCheckRecord(ctx context.Context, r *domain.CheckRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[r.TargetID]; !ok {
		return repo.ErrNotFound
	}
	m.nextID++
	r.ID = m.nextID
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	m.results = append(m.results, cloneRecord(*r))
	return nil
}

// ListCheckRecords returns the newest records first.
func (m *Store) ListCheckRecords(ctx context.Context, id domain.TargetID, limit int) ([]domain.CheckRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.CheckRecord
	for i := len(m.results) - 1; i >= 0; i-- {
		if m.results[i].TargetID != id {
			continue
		}
		out = append(out, cloneRecord(m.results[i]))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ---- ScheduleStore ----

func (m *Store) LoadSchedule(ctx context.Context, id domain.TargetID) (*domain.ScheduleState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := s.Clone()
	return &cp, nil
}

func (m *Store) SaveSchedule(ctx context.Context, s domain.ScheduleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = time.Now().UTC()
	m.schedules[s.TargetID] = s.Clone()
	return nil
}

func (m *Store) DeleteSchedule(ctx context.Context, id domain.TargetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

func (m *Store) ListSchedules(ctx context.Context) ([]domain.ScheduleState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ScheduleState, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out, nil
}

func cloneTarget(t domain.Target) domain.Target {
	if t.ExpectedStatusCode != nil {
		v := *t.ExpectedStatusCode
		t.ExpectedStatusCode = &v
	}
	return t
}

func cloneRecord(r domain.CheckRecord) domain.CheckRecord {
	if r.HTTPStatus != nil {
		v := *r.HTTPStatus
		r.HTTPStatus = &v
	}
	return r
}
