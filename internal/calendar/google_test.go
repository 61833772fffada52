package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/receptionist/internal/apperr"
)

// fakeCalendarAPI serves the subset of the Calendar v3 API used by GoogleGateway.
type fakeCalendarAPI struct {
	mu       sync.Mutex
	events   map[string]*calendar.Event
	busy     []*calendar.TimePeriod
	seq      int
	freeBusy *calendar.FreeBusyRequest
	updates  map[string]string // event id -> sendUpdates of the last write
}

func newFakeCalendarAPI() *fakeCalendarAPI {
	return &fakeCalendarAPI{
		events:  make(map[string]*calendar.Event),
		updates: make(map[string]string),
	}
}

func (f *fakeCalendarAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case path == "freeBusy" && r.Method == http.MethodPost:
		var req calendar.FreeBusyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.freeBusy = &req
		writeJSON(w, &calendar.FreeBusyResponse{
			Calendars: map[string]calendar.FreeBusyCalendar{
				"primary": {Busy: f.busy},
			},
		})

	case path == "calendars/primary/events" && r.Method == http.MethodPost:
		var ev calendar.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		f.seq++
		ev.Id = "evt" + strings.Repeat("x", f.seq)
		f.events[ev.Id] = &ev
		f.updates[ev.Id] = r.URL.Query().Get("sendUpdates")
		writeJSON(w, &ev)

	case path == "calendars/primary/events" && r.Method == http.MethodGet:
		want := r.URL.Query().Get("privateExtendedProperty")
		list := &calendar.Events{}
		for _, ev := range f.events {
			if ev.ExtendedProperties != nil && "hold_id="+ev.ExtendedProperties.Private["hold_id"] == want {
				list.Items = append(list.Items, ev)
			}
		}
		writeJSON(w, list)

	case strings.HasPrefix(path, "calendars/primary/events/"):
		id := strings.TrimPrefix(path, "calendars/primary/events/")
		ev, ok := f.events[id]
		if !ok {
			http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, ev)
		case http.MethodPut:
			var updated calendar.Event
			_ = json.NewDecoder(r.Body).Decode(&updated)
			updated.Id = id
			f.events[id] = &updated
			f.updates[id] = r.URL.Query().Get("sendUpdates")
			writeJSON(w, &updated)
		case http.MethodDelete:
			delete(f.events, id)
			f.updates[id] = r.URL.Query().Get("sendUpdates")
			w.WriteHeader(http.StatusNoContent)
		}

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestGateway(t *testing.T, api *fakeCalendarAPI, loc *time.Location) *GoogleGateway {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	gw, err := NewGoogleGateway(context.Background(), nil, GoogleConfig{
		Rules: DefaultSlotRules(loc),
	}, option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)
	return gw
}

func TestGoogleGatewayFindSlots(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	api := newFakeCalendarAPI()
	api.busy = []*calendar.TimePeriod{{
		Start: time.Date(2025, 3, 10, 9, 0, 0, 0, loc).Format(time.RFC3339),
		End:   time.Date(2025, 3, 10, 10, 0, 0, 0, loc).Format(time.RFC3339),
	}}
	gw := newTestGateway(t, api, loc)

	start := time.Date(2025, 3, 10, 8, 0, 0, 0, loc)
	slots, err := gw.FindSlots(context.Background(), Criteria{Start: start, End: start.Add(12 * time.Hour), Limit: 2})
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.Equal(t, "slot_2025-03-10T10:00:00-04:00", slots[0].ID)
	assert.Equal(t, "primary", slots[0].Resource)
	require.NotNil(t, api.freeBusy)
	assert.Equal(t, "America/New_York", api.freeBusy.TimeZone)
}

func TestGoogleGatewayHoldLifecycle(t *testing.T) {
	ctx := context.Background()
	api := newFakeCalendarAPI()
	gw := newTestGateway(t, api, time.UTC)

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	slot := Slot{ID: SlotID(start, time.UTC), Start: start, End: start.Add(30 * time.Minute)}

	ref, err := gw.PlaceHold(ctx, slot, HoldDetails{HoldID: "h1", Summary: "Hold: Jane - Checkup"})
	require.NoError(t, err)
	assert.Equal(t, "h1", ref.HoldID)
	require.Contains(t, api.events, ref.EventID)
	assert.Equal(t, "tentative", api.events[ref.EventID].Status)
	assert.Equal(t, "h1", api.events[ref.EventID].ExtendedProperties.Private["hold_id"])
	assert.Equal(t, "none", api.updates[ref.EventID])

	t.Run("confirm by event id", func(t *testing.T) {
		apptID, err := gw.Confirm(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, ref.EventID, apptID)
		assert.Equal(t, "confirmed", api.events[apptID].Status)
		assert.Equal(t, "all", api.updates[apptID])
	})

	t.Run("cancel", func(t *testing.T) {
		require.NoError(t, gw.Cancel(ctx, ref.EventID))
		assert.NotContains(t, api.events, ref.EventID)
		assert.Equal(t, "all", api.updates[ref.EventID])

		assert.ErrorIs(t, gw.Cancel(ctx, ref.EventID), ErrNotFound)
	})
}

func TestGoogleGatewayConfirmByHoldID(t *testing.T) {
	ctx := context.Background()
	api := newFakeCalendarAPI()
	gw := newTestGateway(t, api, time.UTC)

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	slot := Slot{ID: SlotID(start, time.UTC), Start: start, End: start.Add(30 * time.Minute)}
	ref, err := gw.PlaceHold(ctx, slot, HoldDetails{HoldID: "h2"})
	require.NoError(t, err)

	apptID, err := gw.Confirm(ctx, HoldRef{HoldID: "h2"})
	require.NoError(t, err)
	assert.Equal(t, ref.EventID, apptID)
}

func TestGoogleGatewayLapsedHold(t *testing.T) {
	ctx := context.Background()
	api := newFakeCalendarAPI()
	gw := newTestGateway(t, api, time.UTC)

	_, err := gw.Confirm(ctx, HoldRef{HoldID: "gone", EventID: "missing"})
	assert.ErrorIs(t, err, apperr.ErrHoldExpired)

	_, err = gw.Confirm(ctx, HoldRef{HoldID: "gone"})
	assert.ErrorIs(t, err, ErrHoldLapsed)

	t.Run("cancelled event", func(t *testing.T) {
		api.events["c1"] = &calendar.Event{Id: "c1", Status: "cancelled"}
		_, err := gw.Confirm(ctx, HoldRef{HoldID: "x", EventID: "c1"})
		assert.ErrorIs(t, err, ErrHoldLapsed)
	})

	t.Run("release missing is ok", func(t *testing.T) {
		assert.NoError(t, gw.Release(ctx, HoldRef{HoldID: "gone", EventID: "missing"}))
		assert.NoError(t, gw.Release(ctx, HoldRef{HoldID: "gone"}))
	})
}

func TestGoogleGatewayRelease(t *testing.T) {
	ctx := context.Background()
	api := newFakeCalendarAPI()
	gw := newTestGateway(t, api, time.UTC)

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ref, err := gw.PlaceHold(ctx, Slot{Start: start, End: start.Add(30 * time.Minute)}, HoldDetails{HoldID: "h3"})
	require.NoError(t, err)

	require.NoError(t, gw.Release(ctx, HoldRef{HoldID: "h3"}))
	assert.NotContains(t, api.events, ref.EventID)
}
