package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"soundcrate/internal/services"
)

// commandContext is swapped out by tests to avoid invoking a real encoder.
var commandContext = exec.CommandContext

// Params describes one transcode target.
type Params struct {
	// Format is the output container/codec name, e.g. "mp3" or "opus".
	Format string
	// Bitrate is the target bitrate in kbit/s. Zero lets the encoder pick.
	Bitrate int
}

// Client runs audio transcodes through an external encoder binary.
type Client interface {
	// Transcode reads inputPath and writes the encoded result to outputPath.
	// The output file is only trustworthy when the returned error is nil.
	Transcode(ctx context.Context, inputPath, outputPath string, params Params) error
	// Version reports the encoder version string for startup diagnostics.
	Version(ctx context.Context) (string, error)
}

type cliClient struct {
	binary string
}

// NewClient returns a Client that shells out to the configured binary.
func NewClient(binary string) Client {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &cliClient{binary: binary}
}

// codecForFormat maps output format names onto encoder codec arguments.
var codecForFormat = map[string]string{
	"mp3":  "libmp3lame",
	"opus": "libopus",
	"aac":  "aac",
	"flac": "flac",
	"ogg":  "libvorbis",
}

func (c *cliClient) Transcode(ctx context.Context, inputPath, outputPath string, params Params) error {
	codec, ok := codecForFormat[params.Format]
	if !ok {
		return services.Wrap(services.ErrValidation, "ffmpeg", "transcode",
			fmt.Sprintf("unsupported output format %q", params.Format), nil)
	}

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-c:a", codec,
	}
	if params.Bitrate > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", params.Bitrate))
	}
	args = append(args, outputPath)

	cmd := commandContext(ctx, c.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTimeout, "ffmpeg", "transcode",
				"encoder run cancelled or timed out", ctx.Err())
		}
		detail := tailLines(stderr.String(), 5)
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return services.Wrap(services.ErrConfiguration, "ffmpeg", "transcode",
				fmt.Sprintf("encoder binary %q not runnable", c.binary), err)
		}
		return services.Wrap(services.ErrExternalTool, "ffmpeg", "transcode",
			"encoder exited with an error", err)
	}
	return nil
}

func (c *cliClient) Version(ctx context.Context) (string, error) {
	cmd := commandContext(ctx, c.binary, "-version")
	out, err := cmd.Output()
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "ffmpeg", "version",
			fmt.Sprintf("encoder binary %q not runnable", c.binary), err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// tailLines returns the last n non-empty lines of s collapsed to one line.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		kept = append([]string{line}, kept...)
	}
	return strings.Join(kept, " | ")
}
