package holds

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teemow/receptionist/internal/apperr"
)

// MemoryBackend keeps holds in process memory. It is the default backend for
// single-instance deployments and tests.
type MemoryBackend struct {
	mu     sync.Mutex
	holds  map[string]Hold
	bySlot map[string]string   // slot id -> most recently inserted hold id
	groups map[string][]string // group id -> hold ids
	byAppt map[string]string   // appointment id -> hold id
	// locks serialize Update per hold; inflight counts callers holding or
	// waiting for a lock.
	locks    map[string]*sync.Mutex
	inflight map[string]int
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		holds:    make(map[string]Hold),
		bySlot:   make(map[string]string),
		groups:   make(map[string][]string),
		byAppt:   make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
		inflight: make(map[string]int),
	}
}

func (m *MemoryBackend) Insert(_ context.Context, h Hold, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.holds[h.ID]; exists {
		return ErrDuplicateHold
	}
	if prevID, ok := m.bySlot[h.SlotID]; ok {
		prev := m.holds[prevID]
		if m.inflight[prevID] > 0 || prev.Active(now) {
			return apperr.SlotUnavailable(h.SlotID)
		}
	}

	m.holds[h.ID] = h
	m.bySlot[h.SlotID] = h.ID
	if h.GroupID != "" {
		m.groups[h.GroupID] = append(m.groups[h.GroupID], h.ID)
	}
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, id string) (Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[id]
	if !ok {
		return Hold{}, apperr.HoldNotFound(id)
	}
	return h, nil
}

func (m *MemoryBackend) Update(ctx context.Context, id string, fn Mutation) (Hold, error) {
	m.mu.Lock()
	if _, ok := m.holds[id]; !ok {
		m.mu.Unlock()
		return Hold{}, apperr.HoldNotFound(id)
	}
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	m.inflight[id]++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight[id]--
		if m.inflight[id] == 0 {
			delete(m.inflight, id)
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}()

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return Hold{}, err
	}

	m.mu.Lock()
	cur := m.holds[id]
	m.mu.Unlock()

	next, err := fn(cur)
	if next == nil {
		return cur, err
	}

	m.mu.Lock()
	m.holds[id] = *next
	if next.AppointmentID != "" {
		m.byAppt[next.AppointmentID] = id
	}
	m.mu.Unlock()
	return *next, err
}

func (m *MemoryBackend) FindByAppointment(_ context.Context, appointmentID string) (Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byAppt[appointmentID]
	if !ok {
		return Hold{}, apperr.HoldNotFound(appointmentID)
	}
	return m.holds[id], nil
}

func (m *MemoryBackend) ListGroup(_ context.Context, groupID string) ([]Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.groups[groupID]
	out := make([]Hold, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.holds[id])
	}
	return out, nil
}

func (m *MemoryBackend) ExpirePending(_ context.Context, now time.Time) ([]Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Hold
	for id, h := range m.holds {
		if h.State.Retired() && m.inflight[id] == 0 && now.Sub(h.UpdatedAt) > TerminalRetention {
			m.remove(h)
			continue
		}
		if h.State != StatePending || !h.PastExpiry(now) || m.inflight[id] > 0 {
			continue
		}
		h.State = StateExpired
		h.UpdatedAt = now
		m.holds[id] = h
		expired = append(expired, h)
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	return expired, nil
}

// remove drops h and every index entry pointing at it. Callers hold m.mu.
func (m *MemoryBackend) remove(h Hold) {
	delete(m.holds, h.ID)
	if m.bySlot[h.SlotID] == h.ID {
		delete(m.bySlot, h.SlotID)
	}
	if h.AppointmentID != "" && m.byAppt[h.AppointmentID] == h.ID {
		delete(m.byAppt, h.AppointmentID)
	}
	if h.GroupID == "" {
		return
	}
	ids := m.groups[h.GroupID]
	for i, id := range ids {
		if id == h.ID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(m.groups, h.GroupID)
	} else {
		m.groups[h.GroupID] = ids
	}
}

// Ping always succeeds.
func (m *MemoryBackend) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored holds in any state.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holds)
}
