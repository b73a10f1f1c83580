package export

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/trigreel/internal/domain/highlights"
	"github.com/forPelevin/trigreel/internal/domain/session"
	"github.com/forPelevin/trigreel/internal/ports"
	"github.com/forPelevin/trigreel/internal/settings"
	"github.com/forPelevin/trigreel/internal/types"
)

// stamp is a frame tagged with the playhead it was decoded at.
type stamp struct {
	*image.RGBA
	at time.Duration
}

type fakeSource struct {
	mu      sync.Mutex
	now     time.Duration
	dur     time.Duration
	step    time.Duration
	rate    float64
	muted   bool
	playing bool
	seeks   []time.Duration

	audio    ports.AudioTrack
	audioErr error
}

func (s *fakeSource) CurrentTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeSource) Seek(_ context.Context, t time.Duration) (<-chan struct{}, error) {
	s.mu.Lock()
	s.now = t
	s.seeks = append(s.seeks, t)
	s.mu.Unlock()
	ch := make(chan struct{})
	close(ch)
	return ch, nil
}

func (s *fakeSource) Duration() time.Duration { return s.dur }
func (s *fakeSource) Size() image.Point       { return image.Pt(4, 4) }
func (s *fakeSource) Play() error             { s.playing = true; return nil }
func (s *fakeSource) Pause() error            { s.playing = false; return nil }
func (s *fakeSource) PlaybackRate() float64   { return s.rate }
func (s *fakeSource) SetPlaybackRate(r float64) {
	s.rate = r
}
func (s *fakeSource) Muted() bool     { return s.muted }
func (s *fakeSource) SetMuted(m bool) { s.muted = m }

func (s *fakeSource) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now >= s.dur
}

// Frame advances the playhead by one step while playing.
func (s *fakeSource) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := stamp{RGBA: image.NewRGBA(image.Rect(0, 0, 4, 4)), at: s.now}
	if s.playing {
		s.now += s.step
	}
	return f, nil
}

type audioSource struct{ *fakeSource }

func (a audioSource) AudioTrack() (ports.AudioTrack, error) { return a.audio, a.audioErr }

type fakeTrack struct{}

func (fakeTrack) Path() string        { return "in.mp4" }
func (fakeTrack) Spans() []ports.Span { return nil }

type op struct {
	kind string
	at   time.Duration
}

type fakeSnap struct{ released int }

func (s *fakeSnap) Image() image.Image { return image.NewRGBA(image.Rect(0, 0, 4, 4)) }
func (s *fakeSnap) Release()           { s.released++ }

type fakeSurface struct {
	img   *image.RGBA
	ops   []op
	snaps []*fakeSnap
}

func (s *fakeSurface) Bounds() image.Rectangle { return s.img.Bounds() }
func (s *fakeSurface) DrawFrame(f image.Image) {
	s.ops = append(s.ops, op{"frame", f.(stamp).at})
}
func (s *fakeSurface) DrawSnapshot(ports.Snapshot) {}
func (s *fakeSurface) DrawWipe(_ ports.Snapshot, f image.Image, _ float64) {
	s.ops = append(s.ops, op{"wipe", f.(stamp).at})
}
func (s *fakeSurface) Region(r image.Rectangle) image.Image { return s.img.SubImage(r) }
func (s *fakeSurface) Snapshot() ports.Snapshot {
	sn := &fakeSnap{}
	s.snaps = append(s.snaps, sn)
	return sn
}
func (s *fakeSurface) Thumbnail(int, int) ([]byte, error) { return nil, nil }
func (s *fakeSurface) Image() *image.RGBA                 { return s.img }

type fakeSession struct {
	started bool
	stopped bool
	frames  int
	audio   ports.AudioTrack
}

func (s *fakeSession) AddAudioTrack(t ports.AudioTrack) error { s.audio = t; return nil }
func (s *fakeSession) Start() error                           { s.started = true; return nil }
func (s *fakeSession) WriteFrame(image.Image) error           { s.frames++; return nil }
func (s *fakeSession) Stop(context.Context) (*ports.Artifact, error) {
	s.stopped = true
	return &ports.Artifact{Path: "/tmp/reel.webm", MIMEType: "video/webm", Size: 42}, nil
}

type fakeEncoder struct {
	unsupported map[string]bool
	opened      []string
	sess        *fakeSession
}

func (e *fakeEncoder) Open(_ context.Context, p ports.Profile, _, _ int, _ float64) (ports.EncodingSession, error) {
	e.opened = append(e.opened, p.Name)
	if e.unsupported[p.Name] {
		return nil, ports.ErrCodecUnsupported
	}
	e.sess = &fakeSession{}
	return e.sess, nil
}

type fakeSaver struct{ got *ports.Artifact }

func (s *fakeSaver) Save(_ context.Context, a *ports.Artifact) (string, error) {
	s.got = a
	return "/out/highlights.webm", nil
}

// readyTicker never blocks so the export loop runs at test speed.
type readyTicker struct{ c chan time.Time }

func (t readyTicker) C() <-chan time.Time { return t.c }
func (t readyTicker) Stop()               {}

type readyClock struct{}

func (readyClock) Now() time.Time { return time.Unix(0, 0) }
func (readyClock) NewTicker(time.Duration) ports.Ticker {
	c := make(chan time.Time)
	close(c)
	return readyTicker{c: c}
}

type env struct {
	src      *fakeSource
	store    *highlights.Store
	gate     *session.Gate
	surface  *fakeSurface
	encoder  *fakeEncoder
	saver    *fakeSaver
	progress []float64
	deps     Deps
}

func newEnv(t *testing.T, starts ...time.Duration) *env {
	t.Helper()
	e := &env{
		src:     &fakeSource{now: 3 * time.Second, dur: time.Minute, step: 100 * time.Millisecond, rate: 2, muted: true},
		store:   highlights.NewStore(),
		gate:    &session.Gate{},
		surface: &fakeSurface{img: image.NewRGBA(image.Rect(0, 0, 4, 4))},
		encoder: &fakeEncoder{},
		saver:   &fakeSaver{},
	}
	for i, s := range starts {
		require.NoError(t, e.store.Add(types.Highlight{ID: string(rune('a' + i)), Time: s, EventTime: s + 5*time.Second, Type: "Boundary"}))
	}
	st := settings.Defaults()
	st.ClipDuration = time.Second
	e.deps = Deps{
		Source:     e.src,
		Highlights: e.store,
		Settings:   settings.NewStore(st),
		Gate:       e.gate,
		NewSurface: func(int, int) (ports.Surface, error) { return e.surface, nil },
		Encoder:    e.encoder,
		Saver:      e.saver,
		Clock:      readyClock{},
		Logger:     zerolog.New(io.Discard),
		OnProgress: func(p float64) { e.progress = append(e.progress, p) },
	}
	return e
}

func TestRun_ChronologicalWithWipesBetweenClips(t *testing.T) {
	e := newEnv(t, 5*time.Second, 40*time.Second, 12*time.Second)

	art, err := New(e.deps).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, "/out/highlights.webm", art.Path)

	// three clip seeks, then the playhead restore
	assert.Equal(t, []time.Duration{5 * time.Second, 12 * time.Second, 40 * time.Second, 3 * time.Second}, e.src.seeks)

	wipes := map[time.Duration]int{}
	for _, o := range e.surface.ops {
		if o.kind != "wipe" {
			continue
		}
		switch {
		case o.at >= 12*time.Second && o.at < 13*time.Second:
			wipes[12*time.Second]++
		case o.at >= 40*time.Second && o.at < 41*time.Second:
			wipes[40*time.Second]++
		default:
			t.Fatalf("unexpected wipe at %s", o.at)
		}
		assert.Less(t, o.at%time.Second, TransitionWindow)
	}
	assert.Equal(t, 6, wipes[12*time.Second])
	assert.Equal(t, 6, wipes[40*time.Second])

	assert.Equal(t, []string{"preferred"}, e.encoder.opened)
	assert.Equal(t, 30, e.encoder.sess.frames)
	assert.True(t, e.encoder.sess.stopped)

	require.NotEmpty(t, e.progress)
	assert.Equal(t, 0.0, e.progress[0])
	assert.Equal(t, 100.0, e.progress[len(e.progress)-1])
	for i := 1; i < len(e.progress); i++ {
		assert.GreaterOrEqual(t, e.progress[i], e.progress[i-1])
	}

	require.Len(t, e.surface.snaps, 3)
	for i, sn := range e.surface.snaps {
		assert.Equal(t, 1, sn.released, "snapshot %d", i)
	}

	assert.Equal(t, session.Idle, e.gate.State())
	assert.True(t, e.src.muted)
	assert.Equal(t, 2.0, e.src.rate)
	assert.Equal(t, 3*time.Second, e.src.now)
	assert.False(t, e.src.playing)
}

func TestRun_FallsBackToBaselineProfile(t *testing.T) {
	e := newEnv(t, 5*time.Second)
	e.encoder.unsupported = map[string]bool{Preferred.Name: true}
	e.deps.Source = audioSource{e.src}
	e.src.audio = fakeTrack{}

	art, err := New(e.deps).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, []string{"preferred", "baseline"}, e.encoder.opened)
	assert.Nil(t, e.encoder.sess.audio, "baseline carries no audio")
}

func TestRun_AttachesAudioWhenAvailable(t *testing.T) {
	e := newEnv(t, 5*time.Second)
	e.deps.Source = audioSource{e.src}
	e.src.audio = fakeTrack{}

	_, err := New(e.deps).Run(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, e.encoder.sess.audio)
}

func TestRun_AudioFailureIsIgnored(t *testing.T) {
	e := newEnv(t, 5*time.Second)
	e.deps.Source = audioSource{e.src}
	e.src.audioErr = errors.New("capture not supported")

	art, err := New(e.deps).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Nil(t, e.encoder.sess.audio)
}

func TestRun_NoOps(t *testing.T) {
	t.Run("no highlights", func(t *testing.T) {
		e := newEnv(t)
		art, err := New(e.deps).Run(context.Background())
		require.NoError(t, err)
		assert.Nil(t, art)
		assert.Empty(t, e.encoder.opened)
	})

	t.Run("session busy", func(t *testing.T) {
		e := newEnv(t, time.Second)
		require.True(t, e.gate.TryEnter(session.Scanning))
		art, err := New(e.deps).Run(context.Background())
		require.NoError(t, err)
		assert.Nil(t, art)
		assert.Equal(t, session.Scanning, e.gate.State())
	})
}

func TestRun_SurfaceFailureMutatesNothing(t *testing.T) {
	e := newEnv(t, time.Second)
	e.deps.NewSurface = func(int, int) (ports.Surface, error) { return nil, errors.New("no memory") }

	_, err := New(e.deps).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, session.Idle, e.gate.State())
	assert.Empty(t, e.encoder.opened)
	assert.Empty(t, e.progress)
	assert.Empty(t, e.src.seeks)
}

func TestRun_EncoderErrorRestoresState(t *testing.T) {
	e := newEnv(t, time.Second)
	e.encoder.unsupported = map[string]bool{Preferred.Name: true, Baseline.Name: true}

	_, err := New(e.deps).Run(context.Background())
	require.ErrorIs(t, err, ports.ErrCodecUnsupported)
	assert.Equal(t, session.Idle, e.gate.State())
	assert.True(t, e.src.muted)
	assert.Equal(t, 2.0, e.src.rate)
	assert.Equal(t, 3*time.Second, e.src.now)
}
