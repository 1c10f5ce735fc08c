// Package notify delivers lifecycle events to an optional webhook sink.
package notify
