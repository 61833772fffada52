// Package appointments sequences the booking workflows on top of the hold
// store and the calendar gateway.
//
// Booking and rescheduling search for slots, place a tentative hold upstream
// for each option and record a pending hold locally. Confirmation goes
// through holds.Store.Confirm so the upstream confirm runs at most once per
// hold. Follow-up work after a confirmation (releasing the other offered
// holds, cancelling the appointment being rescheduled, recording the
// patient) never undoes the new appointment; failures are logged or
// reported as warnings.
package appointments
