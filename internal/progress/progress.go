// Package progress reports the lifecycle of long running stages.
//
// A Reporter is notified when a stage begins and when it ends; it never
// carries business data. Spinner animates elapsed time on a background
// goroutine which End joins before returning.
package progress

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Reporter starts trackers for named stages.
type Reporter interface {
	Begin(label string) Tracker
}

// Tracker is the handle of a single running stage.
type Tracker interface {
	// End stops the indicator. Calls after the first are no-ops.
	End(success bool)
}

// Nop discards all notifications.
type Nop struct{}

// Begin returns a tracker that does nothing.
func (Nop) Begin(string) Tracker { return nopTracker{} }

type nopTracker struct{}

func (nopTracker) End(bool) {}

// LogReporter logs stage boundaries, for non-interactive output.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a reporter writing to logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Begin logs the stage start.
func (r *LogReporter) Begin(label string) Tracker {
	r.logger.Debug().Str("stage", label).Msg("stage started")
	return &logTracker{logger: r.logger, label: label, start: time.Now()}
}

type logTracker struct {
	logger zerolog.Logger
	label  string
	start  time.Time
	once   sync.Once
}

func (t *logTracker) End(success bool) {
	t.once.Do(func() {
		t.logger.Debug().
			Str("stage", t.label).
			Bool("success", success).
			Dur("duration", time.Since(t.start)).
			Msg("stage finished")
	})
}

// Spinner renders an elapsed-time spinner per stage.
type Spinner struct {
	out io.Writer
}

// NewSpinner creates a spinner reporter writing to out.
func NewSpinner(out io.Writer) *Spinner {
	return &Spinner{out: out}
}

// Begin starts the spinner's render goroutine for label.
func (s *Spinner) Begin(label string) Tracker {
	p := mpb.New(
		mpb.WithOutput(s.out),
		mpb.WithWidth(16),
		mpb.WithRefreshRate(120*time.Millisecond),
	)
	bar := p.New(0,
		mpb.SpinnerStyle(),
		mpb.PrependDecorators(
			decor.Name(label, decor.WC{W: len(label) + 1}),
		),
		mpb.AppendDecorators(
			decor.OnAbort(
				decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO), "done"),
				"failed",
			),
		),
	)
	return &spinnerTracker{progress: p, bar: bar}
}

type spinnerTracker struct {
	progress *mpb.Progress
	bar      *mpb.Bar
	once     sync.Once
}

func (t *spinnerTracker) End(success bool) {
	t.once.Do(func() {
		if success {
			t.bar.SetTotal(-1, true)
		} else {
			t.bar.Abort(false)
		}
		t.progress.Wait()
	})
}
