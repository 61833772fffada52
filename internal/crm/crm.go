// Package crm keeps the practice's patient records and staff tickets.
package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/receptionist/internal/clock"
	"github.com/teemow/receptionist/internal/logging"
)

// DefaultPriority is used for tickets created without a priority.
const DefaultPriority = "normal"

// Patient is a caller known to the practice.
type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DOB       string    `json:"dob,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Ticket is a message left for staff.
type Ticket struct {
	ID        string
	Topic     string
	Summary   string
	Priority  string
	Assignee  string
	CreatedAt time.Time
}

// PatientQuery selects patients. Every non-empty field must match exactly.
type PatientQuery struct {
	Name  string
	DOB   string
	Phone string
}

// ErrNotFound is returned by repositories when no record matches.
var ErrNotFound = errors.New("not found")

// Repository persists patients and tickets.
type Repository interface {
	// FindPatient returns the oldest patient matching q, or ErrNotFound.
	FindPatient(ctx context.Context, q PatientQuery) (Patient, error)
	// SavePatient inserts p or updates the record with the same id.
	SavePatient(ctx context.Context, p Patient) error
	SaveTicket(ctx context.Context, t Ticket) error
}

// Service implements patient lookup, patient upsert and ticket creation.
type Service struct {
	repo   Repository
	phones *PhoneNormalizer
	clock  clock.Clock
	logger *slog.Logger
}

// NewService creates a CRM service. phones may be nil, in which case phone
// numbers are only stripped of formatting.
func NewService(repo Repository, phones *PhoneNormalizer, clk clock.Clock, logger *slog.Logger) *Service {
	if phones == nil {
		phones = NewPhoneNormalizer("")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		phones: phones,
		clock:  clk,
		logger: logging.WithService(logger, "crm"),
	}
}

// FindPatient looks a patient up by phone if given, otherwise by name and
// date of birth, otherwise by name alone. It returns nil when nothing
// matches or no identifier was supplied.
func (s *Service) FindPatient(ctx context.Context, name, dob, phone string) (*Patient, error) {
	name = strings.TrimSpace(name)
	dob = strings.TrimSpace(dob)
	phone = s.phones.Normalize(phone)

	var q PatientQuery
	switch {
	case phone != "":
		q = PatientQuery{Phone: phone}
	case name != "" && dob != "":
		q = PatientQuery{Name: name, DOB: dob}
	case name != "":
		q = PatientQuery{Name: name}
	default:
		s.logger.Debug("no identifiers provided for patient lookup")
		return nil, nil
	}

	p, err := s.repo.FindPatient(ctx, q)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find patient: %w", err)
	}
	return &p, nil
}

// UpsertPatient fills in a missing date of birth or phone on an existing
// match, or creates a new patient.
func (s *Service) UpsertPatient(ctx context.Context, name, dob, phone string) (Patient, error) {
	name = strings.TrimSpace(name)
	dob = strings.TrimSpace(dob)
	phone = s.phones.Normalize(phone)
	now := s.clock.Now()

	existing, err := s.FindPatient(ctx, name, dob, phone)
	if err != nil {
		return Patient{}, err
	}

	if existing != nil {
		changed := false
		if dob != "" && existing.DOB == "" {
			existing.DOB = dob
			changed = true
		}
		if phone != "" && existing.Phone == "" {
			existing.Phone = phone
			changed = true
		}
		if changed {
			existing.UpdatedAt = now
			if err := s.repo.SavePatient(ctx, *existing); err != nil {
				return Patient{}, fmt.Errorf("failed to update patient: %w", err)
			}
		}
		s.logger.Info("updated existing patient", slog.String("patient_id", existing.ID))
		return *existing, nil
	}

	p := Patient{
		ID:        uuid.NewString(),
		Name:      name,
		DOB:       dob,
		Phone:     phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.SavePatient(ctx, p); err != nil {
		return Patient{}, fmt.Errorf("failed to create patient: %w", err)
	}
	s.logger.Info("created patient", logging.CallerHash(name))
	return p, nil
}

// CreateTicket records a message for staff.
func (s *Service) CreateTicket(ctx context.Context, topic, summary, priority, assignee string) (Ticket, error) {
	if strings.TrimSpace(priority) == "" {
		priority = DefaultPriority
	}
	t := Ticket{
		ID:        uuid.NewString(),
		Topic:     topic,
		Summary:   summary,
		Priority:  priority,
		Assignee:  assignee,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.SaveTicket(ctx, t); err != nil {
		return Ticket{}, fmt.Errorf("failed to create ticket: %w", err)
	}
	s.logger.Info("created ticket", slog.String("topic", topic), slog.String("priority", priority))
	return t, nil
}
