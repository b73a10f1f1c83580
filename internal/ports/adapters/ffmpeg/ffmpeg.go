package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Adapter struct {
	ffmpeg  string
	ffprobe string
	logger  zerolog.Logger

	encOnce  sync.Once
	encoders map[string]struct{}
	encErr   error
}

func New(ffmpegPath, ffprobePath string, logger zerolog.Logger) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		logger:  logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// Info is the subset of ffprobe output the player needs.
type Info struct {
	Duration time.Duration
	Width    int
	Height   int
	FPS      float64
	HasAudio bool
}

func (a *Adapter) Probe(ctx context.Context, in string) (Info, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		in,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe: %w\n%s", err, string(b))
	}
	return parseProbe(b)
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

func parseProbe(b []byte) (Info, error) {
	var pr probeResult
	if err := json.Unmarshal(b, &pr); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	var info Info
	if s := strings.TrimSpace(pr.Format.Duration); s != "" {
		sec, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Info{}, fmt.Errorf("parse duration %q: %w", s, err)
		}
		info.Duration = time.Duration(sec * float64(time.Second))
	}
	for _, st := range pr.Streams {
		switch st.CodecType {
		case "video":
			if info.Width == 0 {
				info.Width, info.Height = st.Width, st.Height
				info.FPS = parseFrameRate(st.RFrameRate)
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if info.Width == 0 || info.Height == 0 {
		return Info{}, fmt.Errorf("no video stream found")
	}
	return info, nil
}

// parseFrameRate turns "30000/1001" or "25" into frames per second.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// HasEncoder reports whether the ffmpeg build ships the named encoder.
func (a *Adapter) HasEncoder(ctx context.Context, name string) (bool, error) {
	a.encOnce.Do(func() {
		cmd := exec.CommandContext(ctx, a.ffmpeg, "-hide_banner", "-encoders")
		b, err := cmd.CombinedOutput()
		if err != nil {
			a.encErr = fmt.Errorf("ffmpeg list encoders: %w\n%s", err, string(b))
			return
		}
		a.encoders = parseEncoders(string(b))
	})
	if a.encErr != nil {
		return false, a.encErr
	}
	_, ok := a.encoders[name]
	return ok, nil
}

// parseEncoders reads the table printed by `ffmpeg -encoders`. Entry lines
// look like " V....D libvpx-vp9   libvpx VP9".
func parseEncoders(out string) map[string]struct{} {
	res := map[string]struct{}{}
	past := false
	for _, line := range strings.Split(out, "\n") {
		if !past {
			// the legend ends with a lone " ------" line
			past = strings.HasPrefix(strings.TrimSpace(line), "---")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if len(fields[0]) == 6 {
			res[fields[1]] = struct{}{}
		}
	}
	return res
}

func fmtSeconds(d time.Duration) string {
	sec := float64(d) / float64(time.Second)
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
