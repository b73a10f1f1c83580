package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/forPelevin/trigreel/internal/ports"
)

// Encoder turns a stream of RGBA frames into a container file by piping them
// into ffmpeg.
type Encoder struct {
	a       *Adapter
	workDir string
}

func (a *Adapter) NewEncoder(workDir string) *Encoder {
	return &Encoder{a: a, workDir: workDir}
}

// Open checks that the profile's codecs exist in this ffmpeg build and
// prepares a session. Missing codecs surface as ports.ErrCodecUnsupported.
func (e *Encoder) Open(ctx context.Context, p ports.Profile, width, height int, fps float64) (ports.EncodingSession, error) {
	if width <= 0 || height <= 0 || fps <= 0 {
		return nil, fmt.Errorf("encoder: invalid geometry %dx%d@%v", width, height, fps)
	}
	for _, codec := range []string{p.VideoCodec, p.AudioCodec} {
		if codec == "" {
			continue
		}
		ok, err := e.a.HasEncoder(ctx, codec)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ports.ErrCodecUnsupported, codec)
		}
	}
	if err := os.MkdirAll(e.workDir, 0o755); err != nil {
		return nil, err
	}
	ext := p.Container
	if ext == "" {
		ext = "webm"
	}
	f, err := os.CreateTemp(e.workDir, "reel-*."+ext)
	if err != nil {
		return nil, err
	}
	videoPath := f.Name()
	_ = f.Close()

	return &session{
		ctx:       ctx,
		a:         e.a,
		profile:   p,
		w:         width,
		h:         height,
		fps:       fps,
		videoPath: videoPath,
		logger:    e.a.logger.With().Str("profile", p.Name).Logger(),
	}, nil
}

type session struct {
	ctx     context.Context
	a       *Adapter
	profile ports.Profile
	w, h    int
	fps     float64
	logger  zerolog.Logger

	videoPath string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    *limitedBuffer
	frame     *image.RGBA
	frames    int
	audio     ports.AudioTrack
	audioFrom int
}

// AddAudioTrack attaches source audio. Only spans played after this call end
// up in the output.
func (s *session) AddAudioTrack(t ports.AudioTrack) error {
	if t == nil {
		return ports.ErrNoAudio
	}
	if _, err := os.Stat(t.Path()); err != nil {
		return fmt.Errorf("audio source: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = t
	s.audioFrom = len(t.Spans())
	return nil
}

func (s *session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return errors.New("encoder already started")
	}
	cmd := exec.CommandContext(s.ctx, s.a.ffmpeg, encodeArgs(s.profile, s.w, s.h, s.fps, s.videoPath)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg encode pipe: %w", err)
	}
	s.stderr = &limitedBuffer{max: 8 << 10}
	cmd.Stderr = s.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg encode start: %w", err)
	}
	s.cmd, s.stdin = cmd, stdin
	s.frame = image.NewRGBA(image.Rect(0, 0, s.w, s.h))
	s.logger.Debug().Str("out", s.videoPath).Msg("encoder started")
	return nil
}

func (s *session) WriteFrame(frame image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return errors.New("encoder not started")
	}
	buf := s.frame
	if rgba, ok := frame.(*image.RGBA); ok && rgba.Rect == buf.Rect && rgba.Stride == buf.Stride {
		buf = rgba
	} else {
		draw.ApproxBiLinear.Scale(s.frame, s.frame.Bounds(), frame, frame.Bounds(), draw.Src, nil)
	}
	if _, err := s.stdin.Write(buf.Pix); err != nil {
		return fmt.Errorf("ffmpeg encode write: %w\n%s", err, s.stderr.String())
	}
	s.frames++
	return nil
}

func (s *session) Stop(ctx context.Context) (*ports.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil, errors.New("encoder not started")
	}
	_ = s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg encode: %w\n%s", err, s.stderr.String())
	}
	s.logger.Debug().Int("frames", s.frames).Msg("encoder finished")

	out := s.videoPath
	if s.audio != nil {
		spans := s.audio.Spans()
		if s.audioFrom < len(spans) {
			spans = spans[s.audioFrom:]
			muxed := withSuffix(s.videoPath, "-av")
			if err := s.a.MuxAudio(ctx, s.videoPath, s.audio.Path(), spans, s.profile.AudioCodec, muxed); err != nil {
				s.logger.Warn().Err(err).Msg("audio mux failed; keeping video-only reel")
				_ = os.Remove(muxed)
			} else {
				_ = os.Remove(s.videoPath)
				out = muxed
			}
		}
	}

	st, err := os.Stat(out)
	if err != nil {
		return nil, err
	}
	return &ports.Artifact{Path: out, MIMEType: mimeType(s.profile.Container), Size: st.Size()}, nil
}

func encodeArgs(p ports.Profile, w, h int, fps float64, out string) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "pipe:0",
		"-an",
		"-c:v", p.VideoCodec,
	}
	if p.VideoBitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(p.VideoBitrate))
	}
	switch p.VideoCodec {
	case "libvpx", "libvpx-vp9":
		args = append(args, "-deadline", "realtime", "-cpu-used", "8")
	}
	return append(args, "-pix_fmt", "yuv420p", out)
}

func mimeType(container string) string {
	switch container {
	case "", "webm":
		return "video/webm"
	case "mp4":
		return "video/mp4"
	case "mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}

func withSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + suffix + ext
}

// limitedBuffer keeps the first max bytes of ffmpeg's stderr for error
// messages.
type limitedBuffer struct {
	mu  sync.Mutex
	max int
	b   []byte
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if room := l.max - len(l.b); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		l.b = append(l.b, p[:room]...)
	}
	return len(p), nil
}

func (l *limitedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.b)
}

var _ ports.Encoder = (*Encoder)(nil)
