package ports

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	ErrCodecUnsupported = errors.New("codec unsupported")
	ErrNoAudio          = errors.New("source has no audio track")
)

// MediaSource is a player over the input video.
type MediaSource interface {
	CurrentTime() time.Duration
	// Seek moves the playhead. The returned channel is closed once the frame
	// at t is available.
	Seek(ctx context.Context, t time.Duration) (<-chan struct{}, error)
	Duration() time.Duration
	// Size is the native frame size; zero when nothing is loaded.
	Size() image.Point
	Play() error
	Pause() error
	PlaybackRate() float64
	SetPlaybackRate(rate float64)
	Muted() bool
	SetMuted(muted bool)
	Ended() bool
	// Frame returns the frame at the current playhead.
	Frame() (image.Image, error)
}

// AudioSource is implemented by media sources that can expose their audio.
type AudioSource interface {
	AudioTrack() (AudioTrack, error)
}

// AudioTrack describes source audio that an encoder may mux alongside the
// composited frames. Spans are the source ranges actually played, in order.
type AudioTrack interface {
	Path() string
	Spans() []Span
}

type Span struct {
	Start time.Duration
	End   time.Duration
}

// Snapshot is a frozen copy of a surface. Release hands its memory back.
type Snapshot interface {
	Image() image.Image
	Release()
}

// Surface is an off-screen RGBA drawable.
type Surface interface {
	Bounds() image.Rectangle
	DrawFrame(frame image.Image)
	DrawSnapshot(s Snapshot)
	// DrawWipe draws prev, reveals cur over [0, t*width) and strokes the seam.
	DrawWipe(prev Snapshot, cur image.Image, t float64)
	Region(r image.Rectangle) image.Image
	Snapshot() Snapshot
	// Thumbnail encodes the surface scaled to w x h as a compressed still.
	Thumbnail(w, h int) ([]byte, error)
	Image() *image.RGBA
}

type SurfaceFactory func(w, h int) (Surface, error)

type Profile struct {
	Name         string
	Container    string
	VideoCodec   string
	AudioCodec   string
	VideoBitrate int
}

type Encoder interface {
	Open(ctx context.Context, p Profile, width, height int, fps float64) (EncodingSession, error)
}

type EncodingSession interface {
	AddAudioTrack(t AudioTrack) error
	Start() error
	WriteFrame(frame image.Image) error
	// Stop finalises the output and returns the encoded artifact.
	Stop(ctx context.Context) (*Artifact, error)
}

type Artifact struct {
	Path     string
	MIMEType string
	Size     int64
}

// Saver delivers a finished artifact to the user and returns where it went.
type Saver interface {
	Save(ctx context.Context, a *Artifact) (string, error)
}

type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
