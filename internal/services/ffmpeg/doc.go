// Package ffmpeg wraps the external audio encoder used for derived renditions.
package ffmpeg
