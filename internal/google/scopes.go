package google

import calendar "google.golang.org/api/calendar/v3"

// CalendarScopes are the OAuth scopes requested for calendar access.
var CalendarScopes = []string{
	calendar.CalendarScope,
}
