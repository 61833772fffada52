// Package google builds authenticated HTTP clients for the Google Calendar API.
//
// Two methods are supported: a service account, optionally impersonating a
// Workspace user through domain-wide delegation, and an installed-app OAuth
// token kept in a JSON file that is rewritten whenever the token refreshes.
package google
