package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/forPelevin/trigreel/internal/domain/colors"
	"github.com/forPelevin/trigreel/internal/domain/highlights"
	"github.com/forPelevin/trigreel/internal/domain/triggers"
	"github.com/forPelevin/trigreel/internal/ports"
	"github.com/forPelevin/trigreel/internal/types"
)

var ErrUnknownHighlight = errors.New("unknown highlight")

type Scanner interface {
	Start(ctx context.Context) (bool, error)
	Stop()
	Done() <-chan struct{}
}

type Exporter interface {
	Run(ctx context.Context) (*ports.Artifact, error)
}

type Deps struct {
	Source     ports.MediaSource
	NewSurface ports.SurfaceFactory
	Triggers   *triggers.Registry
	Highlights *highlights.Store
	Scanner    Scanner
	Exporter   Exporter

	// DisplaySize is the size trigger rects are given in; zero means source
	// pixels.
	DisplaySize image.Point
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase { return Usecase{d: d} }

// TriggerInput defines a trigger either by a reference color or by the
// frame at At, sampled inside Rect.
type TriggerInput struct {
	Label     string
	Rect      types.Rect
	At        time.Duration
	Color     *types.RGB
	Tolerance float64
}

func (u Usecase) CaptureTrigger(ctx context.Context, in TriggerInput) (types.Trigger, error) {
	if !in.Rect.Valid() {
		return types.Trigger{}, triggers.ErrInvalidRect
	}
	c := types.RGB{}
	if in.Color != nil {
		c = *in.Color
	} else {
		sampled, err := u.sample(ctx, in.Rect, in.At)
		if err != nil {
			return types.Trigger{}, fmt.Errorf("sample %q at %s: %w", in.Label, in.At, err)
		}
		c = sampled
	}
	return u.d.Triggers.Create(in.Rect, c, in.Label, in.Tolerance)
}

func (u Usecase) sample(ctx context.Context, r types.Rect, at time.Duration) (types.RGB, error) {
	src := u.d.Source
	size := src.Size()
	if size.X <= 0 || size.Y <= 0 {
		return types.RGB{}, errors.New("no video loaded")
	}
	if d := src.Duration(); at > d {
		return types.RGB{}, fmt.Errorf("past end of video (%s)", d)
	}
	if err := u.seek(ctx, at); err != nil {
		return types.RGB{}, err
	}
	frame, err := src.Frame()
	if err != nil {
		return types.RGB{}, err
	}
	surface, err := u.d.NewSurface(size.X, size.Y)
	if err != nil {
		return types.RGB{}, err
	}
	surface.DrawFrame(frame)

	sx, sy := 1.0, 1.0
	if ds := u.d.DisplaySize; ds.X > 0 && ds.Y > 0 {
		sx = float64(size.X) / float64(ds.X)
		sy = float64(size.Y) / float64(ds.Y)
	}
	rect := r.Scale(sx, sy).Image()
	return colors.Average(surface.Region(rect), rect)
}

// Scan runs a scan to completion and returns the number of highlights
// recorded. Cancelling ctx stops the scan early.
func (u Usecase) Scan(ctx context.Context) (int, error) {
	before := u.d.Highlights.Len()
	started, err := u.d.Scanner.Start(ctx)
	if err != nil {
		return 0, err
	}
	if !started {
		return 0, nil
	}
	select {
	case <-u.d.Scanner.Done():
	case <-ctx.Done():
		u.d.Scanner.Stop()
		return u.d.Highlights.Len() - before, ctx.Err()
	}
	return u.d.Highlights.Len() - before, nil
}

// Detect starts a fresh session on the loaded input: it registers every
// trigger, rewinds to the start and scans the whole video.
func (u Usecase) Detect(ctx context.Context, ins []TriggerInput) ([]types.Trigger, int, error) {
	if err := u.Reset(ctx); err != nil {
		return nil, 0, fmt.Errorf("reset: %w", err)
	}
	trs := make([]types.Trigger, 0, len(ins))
	for _, in := range ins {
		tr, err := u.CaptureTrigger(ctx, in)
		if err != nil {
			return nil, 0, fmt.Errorf("trigger: %w", err)
		}
		trs = append(trs, tr)
	}
	// sampling left the playhead at the last trigger's time
	if err := u.Rewind(ctx); err != nil {
		return trs, 0, fmt.Errorf("rewind: %w", err)
	}
	n, err := u.Scan(ctx)
	if err != nil {
		return trs, n, fmt.Errorf("scan: %w", err)
	}
	return trs, n, nil
}

func (u Usecase) Export(ctx context.Context) (*ports.Artifact, error) {
	return u.d.Exporter.Run(ctx)
}

// Reset drops every trigger and highlight and rewinds the player, as when a
// new input is loaded.
func (u Usecase) Reset(ctx context.Context) error {
	u.d.Scanner.Stop()
	u.d.Triggers.Clear()
	u.d.Highlights.Clear()
	return u.Rewind(ctx)
}

// Rewind pauses the player at the start of the video.
func (u Usecase) Rewind(ctx context.Context) error {
	if err := u.d.Source.Pause(); err != nil {
		return err
	}
	return u.seek(ctx, 0)
}

// Jump moves the playhead to the start of a highlight's clip.
func (u Usecase) Jump(ctx context.Context, id string) (time.Duration, error) {
	t, ok := u.d.Highlights.SeekTarget(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownHighlight, id)
	}
	return t, u.seek(ctx, t)
}

// Still jumps to a highlight and encodes the frame shown there as a JPEG at
// source resolution.
func (u Usecase) Still(ctx context.Context, id string) ([]byte, error) {
	if _, err := u.Jump(ctx, id); err != nil {
		return nil, err
	}
	frame, err := u.d.Source.Frame()
	if err != nil {
		return nil, err
	}
	size := u.d.Source.Size()
	surface, err := u.d.NewSurface(size.X, size.Y)
	if err != nil {
		return nil, err
	}
	surface.DrawFrame(frame)
	return surface.Thumbnail(size.X, size.Y)
}

func (u Usecase) seek(ctx context.Context, t time.Duration) error {
	done, err := u.d.Source.Seek(ctx, t)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
