package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/trigreel/internal/ports"
)

const (
	DefaultDecodeFPS = 30
	// A lagging decoder is restarted at the playhead instead of being drained
	// frame by frame once it falls this far behind.
	resyncGap = 2 * time.Second
)

type PlayerOptions struct {
	// DecodeFPS is the rate frames are pulled from the source.
	DecodeFPS float64
	Clock     ports.Clock
}

// Player serves frames from a local file through an ffmpeg rawvideo pipe and
// keeps a wall-clock playhead.
type Player struct {
	a      *Adapter
	path   string
	info   Info
	fps    float64
	logger zerolog.Logger

	mu    sync.Mutex
	tr    *transport
	dec   *decoder
	frame *image.RGBA
	spare *image.RGBA
	err   error
}

// Open probes in and returns a paused player at position 0.
func (a *Adapter) Open(ctx context.Context, in string, opts PlayerOptions) (*Player, error) {
	info, err := a.Probe(ctx, in)
	if err != nil {
		return nil, err
	}
	fps := opts.DecodeFPS
	if fps <= 0 {
		fps = DefaultDecodeFPS
	}
	clock := opts.Clock
	if clock == nil {
		clock = ports.RealClock{}
	}
	p := &Player{
		a:      a,
		path:   in,
		info:   info,
		fps:    fps,
		logger: a.logger.With().Str("input", in).Logger(),
		tr:     newTransport(clock, info.Duration),
	}
	done, err := p.Seek(ctx, 0)
	if err != nil {
		return nil, err
	}
	<-done
	return p, nil
}

func (p *Player) Info() Info { return p.info }

func (p *Player) Duration() time.Duration { return p.info.Duration }

func (p *Player) Size() image.Point { return image.Pt(p.info.Width, p.info.Height) }

func (p *Player) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tr.position()
}

func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tr.play()
	return nil
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tr.pause()
	return nil
}

func (p *Player) PlaybackRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tr.rate
}

func (p *Player) SetPlaybackRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tr.setRate(rate)
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tr.muted
}

func (p *Player) SetMuted(m bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tr.setMuted(m)
}

func (p *Player) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tr.ended() {
		return true
	}
	return p.dec != nil && p.dec.eof && p.tr.position() >= p.dec.next
}

// Seek restarts decoding at t. The returned channel is closed once the frame
// at t is available.
func (p *Player) Seek(ctx context.Context, t time.Duration) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tr.seek(t)
	if err := p.restartLocked(p.tr.position()); err != nil {
		return nil, err
	}
	if err := p.advanceLocked(p.dec.start); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	close(done)
	return done, nil
}

// Frame decodes forward to the playhead and returns the latest frame. The
// image is only valid until the next call to Frame or Seek.
func (p *Player) Frame() (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	pos := p.tr.position()
	if p.dec == nil || pos < p.dec.start || pos-p.dec.next > resyncGap {
		if err := p.restartLocked(pos); err != nil {
			return nil, err
		}
	}
	if err := p.advanceLocked(pos); err != nil {
		return nil, err
	}
	if p.frame == nil {
		return nil, errors.New("no frame decoded")
	}
	return p.frame, nil
}

// advanceLocked reads frames until the decoder has passed pos. At least one
// frame is read from a fresh decoder.
func (p *Player) advanceLocked(pos time.Duration) error {
	for !p.dec.eof && (p.dec.next <= pos || p.dec.next == p.dec.start) {
		if p.spare == nil || p.spare.Rect.Dx() != p.dec.w || p.spare.Rect.Dy() != p.dec.h {
			p.spare = image.NewRGBA(image.Rect(0, 0, p.dec.w, p.dec.h))
		}
		if err := p.dec.readInto(p.spare); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			p.err = err
			return err
		}
		p.frame, p.spare = p.spare, p.frame
	}
	return nil
}

// AudioTrack exposes the source audio along with the spans played audibly
// at 1x.
func (p *Player) AudioTrack() (ports.AudioTrack, error) {
	if !p.info.HasAudio {
		return nil, ports.ErrNoAudio
	}
	return audioTrack{p: p}, nil
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dec != nil {
		p.dec.close()
		p.dec = nil
	}
	return nil
}

func (p *Player) restartLocked(at time.Duration) error {
	if p.dec != nil {
		p.dec.close()
	}
	p.err = nil
	dec, err := p.startDecoder(at)
	if err != nil {
		p.dec = nil
		return err
	}
	p.dec = dec
	return nil
}

func (p *Player) startDecoder(at time.Duration) (*decoder, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, p.a.ffmpeg, decodeArgs(p.path, at, p.fps, p.info.Width, p.info.Height)...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg decode pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg decode start: %w", err)
	}
	p.logger.Debug().Dur("at", at).Msg("decoder started")
	return &decoder{
		cmd:    cmd,
		cancel: cancel,
		r:      bufio.NewReaderSize(out, p.info.Width*p.info.Height*4),
		w:      p.info.Width,
		h:      p.info.Height,
		start:  at,
		next:   at,
		step:   time.Duration(float64(time.Second) / p.fps),
	}, nil
}

func decodeArgs(in string, at time.Duration, fps float64, w, h int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmtSeconds(at),
		"-i", in,
		"-an", "-sn",
		"-vf", fmt.Sprintf("fps=%s,scale=%d:%d", strconv.FormatFloat(fps, 'f', -1, 64), w, h),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
}

type decoder struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	r      *bufio.Reader
	w, h   int
	start  time.Duration
	next   time.Duration // timestamp of the next frame to be read
	step   time.Duration
	eof    bool
}

func (d *decoder) readInto(img *image.RGBA) error {
	if d.eof {
		return io.EOF
	}
	if _, err := io.ReadFull(d.r, img.Pix); err != nil {
		d.eof = true
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return err
	}
	d.next += d.step
	return nil
}

func (d *decoder) close() {
	d.cancel()
	_ = d.cmd.Wait()
}

type audioTrack struct{ p *Player }

func (t audioTrack) Path() string { return t.p.path }

func (t audioTrack) Spans() []ports.Span {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	return t.p.tr.recordedSpans()
}

var (
	_ ports.MediaSource = (*Player)(nil)
	_ ports.AudioSource = (*Player)(nil)
)
