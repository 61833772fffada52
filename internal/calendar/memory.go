package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryEvent struct {
	ref       HoldRef
	slot      Slot
	details   HoldDetails
	confirmed bool
}

// MemoryGateway is an in-process calendar used for local development and
// tests. It honours the same contract as GoogleGateway.
type MemoryGateway struct {
	mu     sync.Mutex
	rules  SlotRules
	busy   []TimeRange
	events map[string]*memoryEvent
	seq    int

	// Per-operation error hooks. A non-nil hook result is returned instead of
	// performing the operation.
	FindSlotsErr func() error
	PlaceHoldErr func(slot Slot) error
	ConfirmErr   func(ref HoldRef) error
	CancelErr    func(appointmentID string) error
	ReleaseErr   func(ref HoldRef) error

	calls map[string]int
}

var _ Gateway = (*MemoryGateway)(nil)

// NewMemoryGateway creates an empty calendar using rules.
func NewMemoryGateway(rules SlotRules) *MemoryGateway {
	if rules.Length <= 0 {
		rules = DefaultSlotRules(rules.Location)
	}
	return &MemoryGateway{
		rules:  rules,
		events: make(map[string]*memoryEvent),
		calls:  make(map[string]int),
	}
}

// AddBusy marks a time range as busy.
func (m *MemoryGateway) AddBusy(r TimeRange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = append(m.busy, r)
}

// Calls returns how many times op was invoked.
func (m *MemoryGateway) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Events returns the ids of all events, tentative and confirmed, sorted.
func (m *MemoryGateway) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.events))
	for id := range m.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Expire drops a tentative event as if the upstream hold lapsed.
func (m *MemoryGateway) Expire(eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[eventID]; ok && !ev.confirmed {
		delete(m.events, eventID)
	}
}

func (m *MemoryGateway) FindSlots(_ context.Context, c Criteria) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["find_slots"]++
	if m.FindSlotsErr != nil {
		if err := m.FindSlotsErr(); err != nil {
			return nil, err
		}
	}

	busy := append([]TimeRange(nil), m.busy...)
	for _, ev := range m.events {
		busy = append(busy, TimeRange{Start: ev.slot.Start, End: ev.slot.End})
	}
	return GenerateSlots(c.Start, c.End, busy, m.rules, c.Limit), nil
}

func (m *MemoryGateway) PlaceHold(_ context.Context, slot Slot, details HoldDetails) (HoldRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["place_hold"]++
	if m.PlaceHoldErr != nil {
		if err := m.PlaceHoldErr(slot); err != nil {
			return HoldRef{}, err
		}
	}

	if details.HoldID == "" {
		details.HoldID = uuid.NewString()
	}
	m.seq++
	ref := HoldRef{
		HoldID:  details.HoldID,
		EventID: fmt.Sprintf("evt_%d", m.seq),
		SlotID:  slot.ID,
	}
	m.events[ref.EventID] = &memoryEvent{ref: ref, slot: slot, details: details}
	return ref, nil
}

func (m *MemoryGateway) Confirm(_ context.Context, ref HoldRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["confirm"]++
	if m.ConfirmErr != nil {
		if err := m.ConfirmErr(ref); err != nil {
			return "", err
		}
	}

	ev, ok := m.events[ref.EventID]
	if !ok {
		return "", ErrHoldLapsed
	}
	ev.confirmed = true
	return ref.EventID, nil
}

func (m *MemoryGateway) Cancel(_ context.Context, appointmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["cancel"]++
	if m.CancelErr != nil {
		if err := m.CancelErr(appointmentID); err != nil {
			return err
		}
	}

	if _, ok := m.events[appointmentID]; !ok {
		return ErrNotFound
	}
	delete(m.events, appointmentID)
	return nil
}

func (m *MemoryGateway) Release(_ context.Context, ref HoldRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["release"]++
	if m.ReleaseErr != nil {
		if err := m.ReleaseErr(ref); err != nil {
			return err
		}
	}

	if ev, ok := m.events[ref.EventID]; ok && !ev.confirmed {
		delete(m.events, ref.EventID)
	}
	return nil
}
