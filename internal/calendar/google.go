package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/receptionist/internal/logging"
)

// holdIDProperty is the private extended property tagging tentative events.
const holdIDProperty = "hold_id"

// GoogleConfig configures a GoogleGateway.
type GoogleConfig struct {
	CalendarID string
	Rules      SlotRules
	Logger     *slog.Logger
}

// GoogleGateway implements Gateway on the Google Calendar API. Holds are
// tentative events tagged with the hold id; confirming sets them confirmed
// and cancelling deletes them.
type GoogleGateway struct {
	svc        *calendar.Service
	calendarID string
	rules      SlotRules
	logger     *slog.Logger
}

var _ Gateway = (*GoogleGateway)(nil)

// NewGoogleGateway creates a gateway using client for authentication. Extra
// options are passed to the Calendar service (tests use option.WithEndpoint).
func NewGoogleGateway(ctx context.Context, client *http.Client, cfg GoogleConfig, opts ...option.ClientOption) (*GoogleGateway, error) {
	if client != nil {
		opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	rules := cfg.Rules
	if rules.Length <= 0 {
		rules = DefaultSlotRules(rules.Location)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GoogleGateway{
		svc:        svc,
		calendarID: calendarID,
		rules:      rules,
		logger:     logging.WithService(logger, "calendar"),
	}, nil
}

// QueryFreeBusy returns busy windows of the gateway's calendar in a time range
func (g *GoogleGateway) QueryFreeBusy(ctx context.Context, timeMin, timeMax time.Time) (FreeBusyInfo, error) {
	query := &calendar.FreeBusyRequest{
		TimeMin:  timeMin.Format(time.RFC3339),
		TimeMax:  timeMax.Format(time.RFC3339),
		TimeZone: g.rules.Location.String(),
		Items:    []*calendar.FreeBusyRequestItem{{Id: g.calendarID}},
	}

	result, err := g.svc.Freebusy.Query(query).Context(ctx).Do()
	if err != nil {
		return FreeBusyInfo{}, fmt.Errorf("failed to query freebusy: %w", err)
	}

	info := FreeBusyInfo{Calendar: g.calendarID}
	cal, ok := result.Calendars[g.calendarID]
	if !ok {
		return info, nil
	}
	for _, busy := range cal.Busy {
		start, err := time.Parse(time.RFC3339, busy.Start)
		if err != nil {
			return FreeBusyInfo{}, fmt.Errorf("invalid busy start %q: %w", busy.Start, err)
		}
		end, err := time.Parse(time.RFC3339, busy.End)
		if err != nil {
			return FreeBusyInfo{}, fmt.Errorf("invalid busy end %q: %w", busy.End, err)
		}
		info.Busy = append(info.Busy, TimeRange{Start: start, End: end})
	}
	for _, e := range cal.Errors {
		info.Errors = append(info.Errors, e.Reason)
	}
	if len(info.Errors) > 0 {
		return FreeBusyInfo{}, fmt.Errorf("freebusy errors for %s: %v", g.calendarID, info.Errors)
	}
	return info, nil
}

func (g *GoogleGateway) FindSlots(ctx context.Context, c Criteria) ([]Slot, error) {
	info, err := g.QueryFreeBusy(ctx, c.Start, c.End)
	if err != nil {
		return nil, err
	}
	slots := GenerateSlots(c.Start, c.End, info.Busy, g.rules, c.Limit)
	for i := range slots {
		slots[i].Resource = g.calendarID
	}
	return slots, nil
}

func (g *GoogleGateway) PlaceHold(ctx context.Context, slot Slot, details HoldDetails) (HoldRef, error) {
	holdID := details.HoldID
	if holdID == "" {
		holdID = uuid.NewString()
	}
	tz := g.rules.Location.String()

	event := &calendar.Event{
		Summary:     details.Summary,
		Description: details.Description,
		Status:      "tentative",
		Start:       &calendar.EventDateTime{DateTime: slot.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: slot.End.Format(time.RFC3339), TimeZone: tz},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{holdIDProperty: holdID},
		},
	}

	created, err := g.svc.Events.Insert(g.calendarID, event).SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return HoldRef{}, fmt.Errorf("failed to create hold event: %w", err)
	}
	g.logger.Info("created hold event", logging.HoldID(holdID), slog.String("event_id", created.Id))

	return HoldRef{HoldID: holdID, EventID: created.Id, SlotID: slot.ID}, nil
}

func (g *GoogleGateway) Confirm(ctx context.Context, ref HoldRef) (string, error) {
	event, err := g.findHoldEvent(ctx, ref)
	if err != nil {
		return "", err
	}

	event.Status = "confirmed"
	updated, err := g.svc.Events.Update(g.calendarID, event.Id, event).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		if isGone(err) {
			return "", ErrHoldLapsed
		}
		return "", fmt.Errorf("failed to confirm event: %w", err)
	}
	g.logger.Info("confirmed event", logging.HoldID(ref.HoldID), logging.AppointmentID(updated.Id))
	return updated.Id, nil
}

// findHoldEvent loads the tentative event by id, falling back to a search
// on the hold id property.
func (g *GoogleGateway) findHoldEvent(ctx context.Context, ref HoldRef) (*calendar.Event, error) {
	if ref.EventID != "" {
		event, err := g.svc.Events.Get(g.calendarID, ref.EventID).Context(ctx).Do()
		switch {
		case err == nil && event.Status != "cancelled":
			return event, nil
		case err == nil, isGone(err):
			return nil, ErrHoldLapsed
		default:
			return nil, fmt.Errorf("failed to get hold event: %w", err)
		}
	}

	events, err := g.svc.Events.List(g.calendarID).
		PrivateExtendedProperty(holdIDProperty + "=" + ref.HoldID).
		ShowDeleted(false).
		SingleEvents(true).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to find hold event: %w", err)
	}
	if len(events.Items) == 0 {
		return nil, ErrHoldLapsed
	}
	return events.Items[0], nil
}

func (g *GoogleGateway) Cancel(ctx context.Context, appointmentID string) error {
	err := g.svc.Events.Delete(g.calendarID, appointmentID).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		if isGone(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete event: %w", err)
	}
	g.logger.Info("canceled event", logging.AppointmentID(appointmentID))
	return nil
}

func (g *GoogleGateway) Release(ctx context.Context, ref HoldRef) error {
	eventID := ref.EventID
	if eventID == "" {
		event, err := g.findHoldEvent(ctx, ref)
		if errors.Is(err, ErrHoldLapsed) {
			return nil
		}
		if err != nil {
			return err
		}
		eventID = event.Id
	}

	err := g.svc.Events.Delete(g.calendarID, eventID).SendUpdates("none").Context(ctx).Do()
	if err != nil && !isGone(err) {
		return fmt.Errorf("failed to release hold event: %w", err)
	}
	return nil
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}
