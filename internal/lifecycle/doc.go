// Package lifecycle schedules expiration and trash-purge sweeps.
package lifecycle
