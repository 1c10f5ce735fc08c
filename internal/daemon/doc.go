// Package daemon hosts the long-running process: the HTTP API, the transcode
// pipeline, the lifecycle sweeper, and the single-instance lock.
package daemon
