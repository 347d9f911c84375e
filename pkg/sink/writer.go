package sink

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/progress"
)

// Writer renders progress on a terminal line and prints log lines above it.
type Writer struct {
	w     io.Writer
	start time.Time
	now   func() time.Time
}

// NewWriter returns a Writer sink on out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{w: out, start: time.Now(), now: time.Now}
}

func (pw *Writer) ReportProgress(percent float64, eta time.Duration) {
	_, _ = fmt.Fprintf(pw.w, "\r%s", strings.Repeat(" ", 60))
	_, _ = fmt.Fprintf(pw.w, "\r%6.2f%% done, ETA %s, started %s", percent, progress.FormatETA(eta), humanize.Time(pw.start))
}

func (pw *Writer) AppendLog(line string) {
	_, _ = fmt.Fprintf(pw.w, "\r%s\r%s\n", strings.Repeat(" ", 60), line)
}
