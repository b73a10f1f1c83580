package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/trigreel/internal/domain/highlights"
	"github.com/forPelevin/trigreel/internal/domain/session"
	"github.com/forPelevin/trigreel/internal/ports"
	"github.com/forPelevin/trigreel/internal/settings"
)

const (
	// TransitionWindow is measured in video time from the start of a clip.
	TransitionWindow = 600 * time.Millisecond
	DefaultFPS       = 30
)

var (
	Preferred = ports.Profile{
		Name:         "preferred",
		Container:    "webm",
		VideoCodec:   "libvpx-vp9",
		AudioCodec:   "libopus",
		VideoBitrate: 10_000_000,
	}
	Baseline = ports.Profile{
		Name:         "baseline",
		Container:    "webm",
		VideoCodec:   "libvpx",
		VideoBitrate: 10_000_000,
	}
)

type Deps struct {
	Source     ports.MediaSource
	Highlights *highlights.Store
	Settings   *settings.Store
	Gate       *session.Gate
	NewSurface ports.SurfaceFactory
	Encoder    ports.Encoder
	Saver      ports.Saver
	Clock      ports.Clock
	FPS        float64
	Logger     zerolog.Logger

	OnProgress func(pct float64)
}

// Compositor replays every highlight in chronological order and streams the
// composited frames into one encoded reel.
type Compositor struct {
	d Deps
}

func New(d Deps) *Compositor {
	if d.Clock == nil {
		d.Clock = ports.RealClock{}
	}
	if d.FPS <= 0 {
		d.FPS = DefaultFPS
	}
	d.Logger = d.Logger.With().Str("component", "export").Logger()
	return &Compositor{d: d}
}

// Run exports the reel and returns the saved artifact. It returns nil without
// error when there is nothing to export or the session is busy.
func (c *Compositor) Run(ctx context.Context) (*ports.Artifact, error) {
	src := c.d.Source
	list := c.d.Highlights.Chronological()
	if src == nil || len(list) == 0 {
		c.d.Logger.Debug().Msg("export skipped: no highlights")
		return nil, nil
	}
	if c.d.Gate.State() != session.Idle {
		c.d.Logger.Debug().Str("state", c.d.Gate.State().String()).Msg("export skipped: session busy")
		return nil, nil
	}

	size := src.Size()
	surface, err := c.d.NewSurface(size.X, size.Y)
	if err != nil {
		return nil, fmt.Errorf("export surface: %w", err)
	}
	if !c.d.Gate.TryEnter(session.Exporting) {
		return nil, nil
	}
	defer c.d.Gate.Leave(session.Exporting)
	c.progress(0)

	muted, rate, at := src.Muted(), src.PlaybackRate(), src.CurrentTime()
	defer func() {
		if err := src.Pause(); err != nil {
			c.d.Logger.Warn().Err(err).Msg("pause after export")
		}
		src.SetMuted(muted)
		src.SetPlaybackRate(rate)
		if _, err := src.Seek(context.WithoutCancel(ctx), at); err != nil {
			c.d.Logger.Warn().Err(err).Msg("restore playhead after export")
		}
	}()

	sess, profile, err := c.open(ctx, size.X, size.Y)
	if err != nil {
		return nil, err
	}
	if profile.AudioCodec != "" {
		c.attachAudio(sess)
	}
	if err := sess.Start(); err != nil {
		return nil, fmt.Errorf("encoder start: %w", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_, _ = sess.Stop(context.WithoutCancel(ctx))
		}
	}()

	c.d.Logger.Info().Int("clips", len(list)).Str("profile", profile.Name).Msg("export started")

	pacer := c.d.Clock.NewTicker(time.Duration(float64(time.Second) / c.d.FPS))
	defer pacer.Stop()

	src.SetMuted(false)
	src.SetPlaybackRate(1)

	var last ports.Snapshot
	defer func() {
		if last != nil {
			last.Release()
		}
	}()

	n := float64(len(list))
	for i, h := range list {
		clip := c.d.Settings.Get().ClipDuration
		if err := c.seek(ctx, pacer, h.Time); err != nil {
			return nil, fmt.Errorf("seek clip %d: %w", i, err)
		}
		if err := src.Play(); err != nil {
			return nil, fmt.Errorf("play clip %d: %w", i, err)
		}

		end := h.Time + clip
		for {
			now := src.CurrentTime()
			if now >= end || src.Ended() {
				break
			}
			frame, err := src.Frame()
			if err != nil {
				return nil, fmt.Errorf("clip %d frame: %w", i, err)
			}
			elapsed := max(now-h.Time, 0)
			if i > 0 && elapsed < TransitionWindow && last != nil {
				surface.DrawWipe(last, frame, float64(elapsed)/float64(TransitionWindow))
			} else {
				surface.DrawFrame(frame)
			}
			if err := sess.WriteFrame(surface.Image()); err != nil {
				return nil, err
			}
			c.progress((float64(i) + float64(elapsed)/float64(clip)) / n * 100)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-pacer.C():
			}
		}

		if err := src.Pause(); err != nil {
			return nil, fmt.Errorf("pause clip %d: %w", i, err)
		}
		if frame, err := src.Frame(); err == nil {
			surface.DrawFrame(frame)
		}
		if last != nil {
			last.Release()
		}
		last = surface.Snapshot()
		c.d.Logger.Debug().Int("clip", i).Dur("start", h.Time).Str("type", h.Type).Msg("clip composited")
	}
	last.Release()
	last = nil

	stopped = true
	art, err := sess.Stop(ctx)
	if err != nil {
		return nil, fmt.Errorf("encoder stop: %w", err)
	}
	path, err := c.d.Saver.Save(ctx, art)
	if err != nil {
		return nil, fmt.Errorf("save reel: %w", err)
	}
	art.Path = path
	c.progress(100)
	c.d.Logger.Info().Str("path", path).Int64("bytes", art.Size).Msg("export finished")
	return art, nil
}

func (c *Compositor) open(ctx context.Context, w, h int) (ports.EncodingSession, ports.Profile, error) {
	sess, err := c.d.Encoder.Open(ctx, Preferred, w, h, c.d.FPS)
	if err == nil {
		return sess, Preferred, nil
	}
	if !errors.Is(err, ports.ErrCodecUnsupported) {
		return nil, ports.Profile{}, fmt.Errorf("open encoder: %w", err)
	}
	c.d.Logger.Warn().Err(err).Msg("preferred profile unavailable, using baseline")
	sess, err = c.d.Encoder.Open(ctx, Baseline, w, h, c.d.FPS)
	if err != nil {
		return nil, ports.Profile{}, fmt.Errorf("open encoder: %w", err)
	}
	return sess, Baseline, nil
}

// attachAudio is best-effort; a silent reel is still a reel.
func (c *Compositor) attachAudio(sess ports.EncodingSession) {
	as, ok := c.d.Source.(ports.AudioSource)
	if !ok {
		return
	}
	track, err := as.AudioTrack()
	if err == nil {
		err = sess.AddAudioTrack(track)
	}
	switch {
	case err == nil:
	case errors.Is(err, ports.ErrNoAudio):
		c.d.Logger.Debug().Msg("source has no audio")
	default:
		c.d.Logger.Warn().Err(err).Msg("audio capture unavailable")
	}
}

// seek moves the playhead and waits one pacer tick for the frame to settle.
func (c *Compositor) seek(ctx context.Context, pacer ports.Ticker, t time.Duration) error {
	done, err := c.d.Source.Seek(ctx, t)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-pacer.C():
	}
	return nil
}

func (c *Compositor) progress(pct float64) {
	if c.d.OnProgress != nil {
		c.d.OnProgress(pct)
	}
}
