package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Ning0612/Cargoback/internal/logger"
)

// Reader records every byte read into a tracker step
type Reader struct {
	reader  io.Reader
	tracker *Tracker
	step    string
}

// NewReader creates a new progress-tracking reader
func NewReader(r io.Reader, tracker *Tracker, step string) *Reader {
	return &Reader{reader: r, tracker: tracker, step: step}
}

// Read implements io.Reader
func (pr *Reader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 && pr.tracker != nil {
		if recErr := pr.tracker.RecordProgress(pr.step, int64(n)); recErr != nil && err == nil {
			err = recErr
		}
	}
	return n, err
}

// Writer records every byte written into a tracker step
type Writer struct {
	writer  io.Writer
	tracker *Tracker
	step    string
}

// NewWriter creates a new progress-tracking writer
func NewWriter(w io.Writer, tracker *Tracker, step string) *Writer {
	return &Writer{writer: w, tracker: tracker, step: step}
}

// Write implements io.Writer
func (pw *Writer) Write(p []byte) (n int, err error) {
	n, err = pw.writer.Write(p)
	if n > 0 && pw.tracker != nil {
		if recErr := pw.tracker.RecordProgress(pw.step, int64(n)); recErr != nil && err == nil {
			err = recErr
		}
	}
	return n, err
}

// LogListener logs every event at info level
func LogListener(log logger.Logger) Listener {
	return func(ev Event) {
		log.Info("Progress",
			"step", ev.Step,
			"step_percent", ev.StepPercent,
			"total_percent", ev.TotalPercent,
			"completed", humanize.Comma(ev.Completed),
			"subtotal", humanize.Comma(ev.Subtotal),
		)
	}
}

// BarListener prints a progress bar line per event
func BarListener(w io.Writer, width int) Listener {
	return func(ev Event) {
		fmt.Fprintf(w, "%s %-10s %s\n", FormatProgress(ev.TotalPercent, width), ev.Step,
			humanize.Comma(ev.Completed)+"/"+humanize.Comma(ev.Subtotal))
	}
}

// FormatProgress returns a progress bar string
func FormatProgress(percent, width int) string {
	if width <= 0 {
		return ""
	}
	percent = min(max(percent, 0), Max)

	filled := percent * width / Max
	var bar strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i < filled:
			bar.WriteByte('=')
		case i == filled:
			bar.WriteByte('>')
		default:
			bar.WriteByte(' ')
		}
	}
	return fmt.Sprintf("[%s] %3d%%", bar.String(), percent)
}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}
