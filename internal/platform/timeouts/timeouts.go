// Package timeouts defines shared timeout constants.
package timeouts

import "time"

// LockWait bounds how long one unit of work waits for a row lock before
// the attempt is reported as transient.
const LockWait = 5 * time.Second

// Shutdown limits how long a command waits for telemetry to flush.
const Shutdown = 5 * time.Second
