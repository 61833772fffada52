// Package calendar is the gateway between appointment workflows and the
// practice calendar.
//
// The Gateway interface covers the five operations the workflows need:
// finding open slots, placing a tentative hold, confirming it into an
// appointment, cancelling an appointment and releasing a hold. GoogleGateway
// implements it on the Google Calendar API; MemoryGateway is an in-process
// calendar for development and tests. Instrument wraps any Gateway with
// metrics and tracing.
//
// Example usage:
//
//	gw, err := calendar.NewGoogleGateway(ctx, httpClient, calendar.GoogleConfig{
//	    CalendarID: "primary",
//	    Rules:      calendar.DefaultSlotRules(loc),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	slots, err := gw.FindSlots(ctx, calendar.Criteria{Start: now, End: now.AddDate(0, 0, 7), Limit: 3})
package calendar
