package crm

import (
	"context"
	"sync"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	patients []Patient
	tickets  []Ticket
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) FindPatient(_ context.Context, q PatientQuery) (Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.patients {
		if q.Phone != "" && p.Phone != q.Phone {
			continue
		}
		if q.Name != "" && p.Name != q.Name {
			continue
		}
		if q.DOB != "" && p.DOB != q.DOB {
			continue
		}
		return p, nil
	}
	return Patient{}, ErrNotFound
}

func (m *MemoryRepository) SavePatient(_ context.Context, p Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.patients {
		if m.patients[i].ID == p.ID {
			m.patients[i] = p
			return nil
		}
	}
	m.patients = append(m.patients, p)
	return nil
}

func (m *MemoryRepository) SaveTicket(_ context.Context, t Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets = append(m.tickets, t)
	return nil
}

// Tickets returns a copy of the stored tickets.
func (m *MemoryRepository) Tickets() []Ticket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Ticket(nil), m.tickets...)
}
