package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/holds"
)

const holdColumns = `id, slot_id, group_id, event_id, previous_appointment_id,
	slot_start, slot_end, created_at, expires_at, updated_at,
	state, appointment_id, caller_name, caller_phone, caller_dob, caller_reason`

// HoldBackend stores holds in the holds table.
//
// Inserts on the same slot are serialized with a transaction-scoped advisory
// lock keyed on the slot id. Updates lock the row with SELECT ... FOR UPDATE
// for the whole mutation, which makes a hold being confirmed visible to
// Insert (lock not available) and invisible to ExpirePending (SKIP LOCKED).
type HoldBackend struct {
	pool *pgxpool.Pool
	q    querier
}

var _ holds.Backend = (*HoldBackend)(nil)

func NewHoldBackend(pool *pgxpool.Pool) *HoldBackend {
	return &HoldBackend{pool: pool, q: querier{pool: pool}}
}

func (b *HoldBackend) Insert(ctx context.Context, h holds.Hold, now time.Time) error {
	return withTx(ctx, b.pool, func(ctx context.Context) error {
		if _, err := b.q.exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, h.SlotID); err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}

		active, err := b.slotActive(ctx, h.SlotID, now)
		if err != nil {
			return err
		}
		if active {
			return apperr.SlotUnavailable(h.SlotID)
		}

		const stmt = `
INSERT INTO holds (` + holdColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
		if _, err := b.q.exec(ctx, stmt, holdArgs(h)...); err != nil {
			if isUniqueViolation(err) {
				if constraintName(err) == "holds_pkey" {
					return holds.ErrDuplicateHold
				}
				return apperr.SlotUnavailable(h.SlotID)
			}
			return fmt.Errorf("insert hold: %w", err)
		}
		return nil
	})
}

// slotActive reports whether the slot has a confirmed hold, an unexpired
// pending hold, or a hold locked by an in-flight update.
func (b *HoldBackend) slotActive(ctx context.Context, slotID string, now time.Time) (bool, error) {
	const query = `
SELECT state, expires_at FROM holds
WHERE slot_id = $1 AND state IN ('pending', 'confirmed')
FOR UPDATE NOWAIT`

	rows, err := b.q.query(ctx, query, slotID)
	if err != nil {
		if isLockNotAvailable(err) {
			return true, nil
		}
		return false, fmt.Errorf("check slot: %w", err)
	}
	defer rows.Close()

	active := false
	for rows.Next() {
		var state string
		var expiresAt time.Time
		if err := rows.Scan(&state, &expiresAt); err != nil {
			return false, fmt.Errorf("scan slot hold: %w", err)
		}
		h := holds.Hold{State: holds.State(state), ExpiresAt: expiresAt}
		if h.Active(now) {
			active = true
		}
	}
	if err := rows.Err(); err != nil {
		if isLockNotAvailable(err) {
			return true, nil
		}
		return false, fmt.Errorf("check slot: %w", err)
	}
	return active, nil
}

func (b *HoldBackend) Get(ctx context.Context, id string) (holds.Hold, error) {
	h, err := scanHold(b.q.queryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return holds.Hold{}, apperr.HoldNotFound(id)
		}
		return holds.Hold{}, fmt.Errorf("get hold: %w", err)
	}
	return h, nil
}

func (b *HoldBackend) Update(ctx context.Context, id string, fn holds.Mutation) (holds.Hold, error) {
	var result holds.Hold
	var fnErr error

	err := withTx(ctx, b.pool, func(ctx context.Context) error {
		cur, err := scanHold(b.q.queryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.HoldNotFound(id)
			}
			return fmt.Errorf("lock hold: %w", err)
		}

		result = cur
		next, err := fn(cur)
		fnErr = err
		if next == nil {
			return nil
		}

		const stmt = `
UPDATE holds SET
	group_id = $2, event_id = $3, previous_appointment_id = $4,
	slot_start = $5, slot_end = $6, expires_at = $7, updated_at = $8,
	state = $9, appointment_id = $10,
	caller_name = $11, caller_phone = $12, caller_dob = $13, caller_reason = $14
WHERE id = $1`
		_, err = b.q.exec(ctx, stmt,
			next.ID, next.GroupID, next.EventID, next.PreviousAppointmentID,
			next.SlotStart, next.SlotEnd, next.ExpiresAt, next.UpdatedAt,
			string(next.State), next.AppointmentID,
			next.Caller.Name, next.Caller.Phone, next.Caller.DOB, next.Caller.Reason,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.SlotUnavailable(next.SlotID)
			}
			return fmt.Errorf("update hold: %w", err)
		}
		result = *next
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, fnErr
}

func (b *HoldBackend) FindByAppointment(ctx context.Context, appointmentID string) (holds.Hold, error) {
	const query = `SELECT ` + holdColumns + ` FROM holds
WHERE appointment_id = $1
ORDER BY updated_at DESC
LIMIT 1`
	h, err := scanHold(b.q.queryRow(ctx, query, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return holds.Hold{}, apperr.HoldNotFound(appointmentID)
		}
		return holds.Hold{}, fmt.Errorf("find hold by appointment: %w", err)
	}
	return h, nil
}

func (b *HoldBackend) ListGroup(ctx context.Context, groupID string) ([]holds.Hold, error) {
	rows, err := b.q.query(ctx, `SELECT `+holdColumns+` FROM holds WHERE group_id = $1 ORDER BY slot_start, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group: %w", err)
	}
	return collectHolds(rows)
}

func (b *HoldBackend) ExpirePending(ctx context.Context, now time.Time) ([]holds.Hold, error) {
	const query = `
WITH stale AS (
	SELECT id FROM holds
	WHERE state = 'pending' AND expires_at < $1
	ORDER BY expires_at
	FOR UPDATE SKIP LOCKED
)
UPDATE holds h SET state = 'expired', updated_at = $1
FROM stale
WHERE h.id = stale.id
RETURNING h.id, h.slot_id, h.group_id, h.event_id, h.previous_appointment_id,
	h.slot_start, h.slot_end, h.created_at, h.expires_at, h.updated_at,
	h.state, h.appointment_id, h.caller_name, h.caller_phone, h.caller_dob, h.caller_reason`

	rows, err := b.q.query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("expire pending holds: %w", err)
	}
	return collectHolds(rows)
}

func (b *HoldBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func holdArgs(h holds.Hold) []any {
	return []any{
		h.ID, h.SlotID, h.GroupID, h.EventID, h.PreviousAppointmentID,
		h.SlotStart, h.SlotEnd, h.CreatedAt, h.ExpiresAt, h.UpdatedAt,
		string(h.State), h.AppointmentID,
		h.Caller.Name, h.Caller.Phone, h.Caller.DOB, h.Caller.Reason,
	}
}

func scanHold(row pgx.Row) (holds.Hold, error) {
	var h holds.Hold
	var state string
	err := row.Scan(
		&h.ID, &h.SlotID, &h.GroupID, &h.EventID, &h.PreviousAppointmentID,
		&h.SlotStart, &h.SlotEnd, &h.CreatedAt, &h.ExpiresAt, &h.UpdatedAt,
		&state, &h.AppointmentID,
		&h.Caller.Name, &h.Caller.Phone, &h.Caller.DOB, &h.Caller.Reason,
	)
	if err != nil {
		return holds.Hold{}, err
	}
	h.State = holds.State(state)
	return h, nil
}

func collectHolds(rows pgx.Rows) ([]holds.Hold, error) {
	defer rows.Close()

	var out []holds.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read holds: %w", err)
	}
	return out, nil
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
