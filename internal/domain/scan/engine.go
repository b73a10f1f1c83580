package scan

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forPelevin/trigreel/internal/domain/colors"
	"github.com/forPelevin/trigreel/internal/domain/highlights"
	"github.com/forPelevin/trigreel/internal/domain/session"
	"github.com/forPelevin/trigreel/internal/domain/triggers"
	"github.com/forPelevin/trigreel/internal/ports"
	"github.com/forPelevin/trigreel/internal/settings"
	"github.com/forPelevin/trigreel/internal/types"
)

const (
	// TickInterval is wall-clock time, independent of playback rate.
	TickInterval = 100 * time.Millisecond
	// Cooldown is video time and applies across all triggers.
	Cooldown = 10 * time.Second

	ThumbWidth  = 160
	ThumbHeight = 90
)

type Deps struct {
	Source     ports.MediaSource
	Triggers   *triggers.Registry
	Highlights *highlights.Store
	Settings   *settings.Store
	Gate       *session.Gate
	NewSurface ports.SurfaceFactory
	Clock      ports.Clock
	Logger     zerolog.Logger

	// DisplaySize is the size trigger rects were drawn against. Zero means
	// rects are already in source pixels.
	DisplaySize image.Point

	// OnProgress and OnHighlight run on the scan goroutine after the engine
	// lock is released. They may call Running or Done but not Stop, which
	// waits for that goroutine.
	OnProgress  func(pct float64)
	OnHighlight func(h types.Highlight)
	NewID       func() string
}

// Engine plays the source at scan speed and turns trigger matches into
// highlights.
type Engine struct {
	d Deps

	mu   sync.Mutex
	cur  *run
	done chan struct{}
}

type run struct {
	surface ports.Surface
	ticker  ports.Ticker
	stop    chan struct{}
	done    chan struct{}
	sx, sy  float64

	// lastMatch starts at zero, so nothing fires in the first Cooldown of
	// video.
	lastMatch time.Duration
}

func New(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = ports.RealClock{}
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	d.Logger = d.Logger.With().Str("component", "scan").Logger()
	done := make(chan struct{})
	close(done)
	return &Engine{d: d, done: done}
}

// Start begins a scan. It reports false without error when there is nothing
// to scan or another operation holds the session.
func (e *Engine) Start(_ context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	src := e.d.Source
	if e.cur != nil || src == nil || e.d.Triggers.Len() == 0 {
		e.d.Logger.Debug().Msg("scan not started: no source or triggers")
		return false, nil
	}
	size := src.Size()
	if src.Duration() <= 0 || size.X <= 0 || size.Y <= 0 {
		e.d.Logger.Debug().Msg("scan not started: no video loaded")
		return false, nil
	}
	if e.d.Gate.State() != session.Idle {
		e.d.Logger.Debug().Str("state", e.d.Gate.State().String()).Msg("scan not started: session busy")
		return false, nil
	}

	surface, err := e.d.NewSurface(size.X, size.Y)
	if err != nil {
		return false, fmt.Errorf("scan surface: %w", err)
	}
	if !e.d.Gate.TryEnter(session.Scanning) {
		return false, nil
	}

	r := &run{
		surface: surface,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		sx:      1,
		sy:      1,
	}
	if ds := e.d.DisplaySize; ds.X > 0 && ds.Y > 0 {
		r.sx = float64(size.X) / float64(ds.X)
		r.sy = float64(size.Y) / float64(ds.Y)
	}

	speed := e.d.Settings.Get().ScanSpeed
	src.SetMuted(true)
	src.SetPlaybackRate(speed)
	if err := src.Play(); err != nil {
		e.restoreLocked()
		return false, fmt.Errorf("scan play: %w", err)
	}

	r.ticker = e.d.Clock.NewTicker(TickInterval)
	e.cur = r
	e.done = r.done
	go e.loop(r)

	e.d.Logger.Info().Float64("speed", speed).Int("triggers", e.d.Triggers.Len()).Msg("scan started")
	return true, nil
}

// Stop cancels the scan. No highlight is recorded after Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	r := e.cur
	if r == nil {
		e.mu.Unlock()
		return
	}
	e.stopLocked("stopped")
	e.mu.Unlock()
	<-r.done
}

// Done is closed when the most recent scan has finished.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur != nil
}

func (e *Engine) loop(r *run) {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case <-r.ticker.C():
			if !e.tick(r) {
				return
			}
		}
	}
}

// tick samples one frame. It reports false once the run is over.
func (e *Engine) tick(r *run) bool {
	e.mu.Lock()
	pct, found, ok := e.sampleLocked(r)
	e.mu.Unlock()

	if pct >= 0 && e.d.OnProgress != nil {
		e.d.OnProgress(pct)
	}
	if e.d.OnHighlight != nil {
		for _, h := range found {
			e.d.OnHighlight(h)
		}
	}
	return ok
}

// sampleLocked returns the progress, or -1 when unknown, and the highlights
// accepted on this frame.
func (e *Engine) sampleLocked(r *run) (float64, []types.Highlight, bool) {
	if e.cur != r {
		return -1, nil, false
	}

	src := e.d.Source
	if src.Ended() {
		e.stopLocked("end of media")
		return -1, nil, false
	}

	frame, err := src.Frame()
	if err != nil {
		e.d.Logger.Warn().Err(err).Msg("scan frame unavailable")
		return -1, nil, true
	}
	r.surface.DrawFrame(frame)

	now := src.CurrentTime()
	pct := -1.0
	if dur := src.Duration(); dur > 0 {
		pct = float64(now) / float64(dur) * 100
	}

	var found []types.Highlight
	st := e.d.Settings.Get()
	for _, tr := range e.d.Triggers.All() {
		rect := tr.Rect.Scale(r.sx, r.sy).Image()
		c, err := colors.Average(r.surface.Region(rect), rect)
		if err != nil {
			e.d.Logger.Debug().Err(err).Str("trigger", tr.Label).Msg("trigger region not sampled")
			continue
		}
		if !colors.Matches(c, tr.Color, tr.Tolerance) {
			continue
		}
		if now-r.lastMatch <= Cooldown {
			continue
		}
		if h, ok := e.acceptLocked(r, tr, now, st.PreRoll); ok {
			found = append(found, h)
		}
	}
	return pct, found, true
}

func (e *Engine) acceptLocked(r *run, tr types.Trigger, now, preRoll time.Duration) (types.Highlight, bool) {
	thumb, err := r.surface.Thumbnail(ThumbWidth, ThumbHeight)
	if err != nil {
		e.d.Logger.Warn().Err(err).Msg("thumbnail capture failed")
	}
	h := types.Highlight{
		ID:        e.d.NewID(),
		Time:      highlights.ClipStart(now, preRoll),
		EventTime: now,
		Type:      tr.Label,
		Thumbnail: thumb,
	}
	if err := e.d.Highlights.Add(h); err != nil {
		e.d.Logger.Error().Err(err).Str("id", h.ID).Msg("highlight not stored")
		return types.Highlight{}, false
	}
	r.lastMatch = now
	e.d.Logger.Info().
		Str("type", h.Type).
		Dur("event", h.EventTime).
		Dur("start", h.Time).
		Msg("highlight detected")
	return h, true
}

func (e *Engine) stopLocked(reason string) {
	r := e.cur
	r.ticker.Stop()
	close(r.stop)
	e.cur = nil
	e.restoreLocked()
	e.d.Logger.Info().Str("reason", reason).Int("highlights", e.d.Highlights.Len()).Msg("scan finished")
}

func (e *Engine) restoreLocked() {
	src := e.d.Source
	src.SetPlaybackRate(1)
	src.SetMuted(false)
	if err := src.Pause(); err != nil {
		e.d.Logger.Warn().Err(err).Msg("pause after scan")
	}
	e.d.Gate.Leave(session.Scanning)
}
