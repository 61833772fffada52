package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teemow/receptionist/internal/crm"
)

// CRMRepository stores patients and tickets.
type CRMRepository struct {
	q querier
}

var _ crm.Repository = (*CRMRepository)(nil)

func NewCRMRepository(pool *pgxpool.Pool) *CRMRepository {
	return &CRMRepository{q: querier{pool: pool}}
}

func (r *CRMRepository) FindPatient(ctx context.Context, q crm.PatientQuery) (crm.Patient, error) {
	const query = `
SELECT id, name, dob, phone, created_at, updated_at
FROM patients
WHERE ($1 = '' OR phone = $1)
  AND ($2 = '' OR name = $2)
  AND ($3 = '' OR dob = $3)
ORDER BY created_at, id
LIMIT 1`

	var p crm.Patient
	err := r.q.queryRow(ctx, query, q.Phone, q.Name, q.DOB).
		Scan(&p.ID, &p.Name, &p.DOB, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crm.Patient{}, crm.ErrNotFound
		}
		return crm.Patient{}, fmt.Errorf("find patient: %w", err)
	}
	return p, nil
}

func (r *CRMRepository) SavePatient(ctx context.Context, p crm.Patient) error {
	const stmt = `
INSERT INTO patients (id, name, dob, phone, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	dob = EXCLUDED.dob,
	phone = EXCLUDED.phone,
	updated_at = EXCLUDED.updated_at`

	if _, err := r.q.exec(ctx, stmt, p.ID, p.Name, p.DOB, p.Phone, p.CreatedAt, p.UpdatedAt); err != nil {
		return fmt.Errorf("save patient: %w", err)
	}
	return nil
}

func (r *CRMRepository) SaveTicket(ctx context.Context, t crm.Ticket) error {
	const stmt = `
INSERT INTO tickets (id, topic, summary, priority, assignee, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.q.exec(ctx, stmt, t.ID, t.Topic, t.Summary, t.Priority, t.Assignee, t.CreatedAt); err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}
