// Package domain holds the recruitment records and the posting state machine.
//
// Everything here is pure: no storage, no clocks, no locks. Callers pass the
// approved count they observed inside their lock scope and the functions in
// this package decide what the posting status must become.
package domain
