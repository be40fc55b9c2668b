package main

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/franz/electric/internal/util"
)

// newProgressBar returns a bar on stderr, or nil when stderr is not a
// terminal or output is quiet
func newProgressBar(total int, description string) *progressbar.ProgressBar {
	if total <= 0 || util.IsQuiet() || !util.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	width := 40
	if w := util.GetTerminalWidth() / 3; w < width {
		width = w
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(width),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
