// Package progress aggregates transferred bytes across concurrent uploads
// into a single progress bar.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

const redrawInterval = 100 * time.Millisecond

type Tracker struct {
	total       atomic.Int64
	transferred atomic.Int64

	out         io.Writer
	interactive bool
	logger      *zap.Logger

	mu       sync.Mutex
	bar      progress.Model
	lastDraw time.Time
	started  time.Time
}

// NewTracker creates a tracker that draws on out when it is a terminal.
func NewTracker(out *os.File, logger *zap.Logger) *Tracker {
	interactive := isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	return NewTrackerWriter(out, interactive, logger)
}

// NewTrackerWriter creates a tracker writing to out. The bar is only drawn
// when interactive is set.
func NewTrackerWriter(out io.Writer, interactive bool, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		out:         out,
		interactive: interactive,
		logger:      logger,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		started:     time.Now(),
	}
}

// AddTotal grows the number of bytes expected.
func (t *Tracker) AddTotal(n int64) {
	t.total.Add(n)
}

// Add records n transferred bytes. n may be negative when a body is rewound.
func (t *Tracker) Add(n int64) {
	if n == 0 {
		return
	}
	t.transferred.Add(n)
	t.draw(false)
}

func (t *Tracker) Total() int64       { return t.total.Load() }
func (t *Tracker) Transferred() int64 { return t.transferred.Load() }

// Percent returns the completed fraction in [0, 1].
func (t *Tracker) Percent() float64 {
	total := t.total.Load()
	if total <= 0 {
		return 1
	}
	p := float64(t.transferred.Load()) / float64(total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Finish draws the final state and terminates the line.
func (t *Tracker) Finish() {
	t.draw(true)
	if t.interactive {
		t.mu.Lock()
		fmt.Fprintln(t.out)
		t.mu.Unlock()
	}
	t.logger.Info("Upload transfer finished",
		zap.String("transferred", humanize.Bytes(uint64(max(t.Transferred(), 0)))),
		zap.String("total", humanize.Bytes(uint64(max(t.Total(), 0)))),
		zap.Duration("elapsed", time.Since(t.started)))
}

func (t *Tracker) draw(force bool) {
	if !t.interactive {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if !force && now.Sub(t.lastDraw) < redrawInterval {
		return
	}
	t.lastDraw = now

	fmt.Fprintf(t.out, "\r%s %s / %s", t.bar.ViewAs(t.Percent()),
		humanize.Bytes(uint64(max(t.Transferred(), 0))),
		humanize.Bytes(uint64(max(t.Total(), 0))))
}

// Reader counts bytes read from body into a tracker. It stays seekable so the
// storage client can rewind the body; rewinding un-counts bytes.
type Reader struct {
	body    io.ReadSeeker
	tracker *Tracker
	pos     int64
	counted int64
}

func NewReader(body io.ReadSeeker, tracker *Tracker) *Reader {
	return &Reader{body: body, tracker: tracker}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	r.pos += int64(n)
	if r.pos > r.counted {
		r.tracker.Add(r.pos - r.counted)
		r.counted = r.pos
	}
	return n, err
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.body.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	if pos < r.counted {
		r.tracker.Add(pos - r.counted)
		r.counted = pos
	}
	r.pos = pos
	return pos, nil
}
