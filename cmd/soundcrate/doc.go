// Package main hosts the soundcrate CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon API: uploads, asset management, transcode queue
// inspection, usage reporting, and configuration scaffolding. It centralizes
// configuration resolution, API client construction, and account identity
// handling so subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
