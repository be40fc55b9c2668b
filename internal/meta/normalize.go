package meta

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/franz/electric/internal/util"
)

// Normalizer rewrites an incoming audio file into the library's container
// form with ffmpeg: stream copy, all metadata stripped, bit-exact muxing.
type Normalizer struct {
	binary string
	runner util.CommandRunner
}

// NewNormalizer creates a normalizer for the given ffmpeg binary
func NewNormalizer(binary string) *Normalizer {
	return NewNormalizerWithRunner(binary, util.ExecRunner{})
}

// NewNormalizerWithRunner allows injecting a custom runner for testing
func NewNormalizerWithRunner(binary string, runner util.CommandRunner) *Normalizer {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	if runner == nil {
		runner = util.ExecRunner{}
	}
	return &Normalizer{binary: binary, runner: runner}
}

// Binary returns the configured ffmpeg binary
func (n *Normalizer) Binary() string {
	return n.binary
}

// Normalize writes the normalized form of input to output. A partial output
// is removed on failure.
func (n *Normalizer) Normalize(ctx context.Context, input, output string) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-map", "0:a",
		"-codec", "copy",
		"-map_metadata", "-1",
		"-id3v2_version", "4",
		"-write_id3v1", "0",
		"-bitexact",
		"-f", "mp3",
		output,
	}

	util.DebugLog("Running %s %s", n.binary, strings.Join(args, " "))
	if _, err := n.runner.Run(ctx, n.binary, args); err != nil {
		os.Remove(output)
		return fmt.Errorf("normalize %s: %w", input, err)
	}

	if !util.FileExists(output) {
		return fmt.Errorf("normalize %s: %s produced no output", input, n.binary)
	}
	return nil
}

// Validate checks that the ffmpeg binary runs
func (n *Normalizer) Validate(ctx context.Context) error {
	if _, err := n.runner.Run(ctx, n.binary, []string{"-version"}); err != nil {
		return fmt.Errorf("%s not found or not executable: %w", n.binary, err)
	}
	return nil
}
