package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/forPelevin/trigreel/internal/ports"
)

// MuxAudio cuts spans out of the source audio, concatenates them and muxes
// the result with the video-only reel. The video stream is copied.
func (a *Adapter) MuxAudio(ctx context.Context, video, source string, spans []ports.Span, audioCodec, out string) error {
	args, err := muxArgs(video, source, spans, audioCodec, out)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg mux audio: %w\n%s", err, string(b))
	}
	return nil
}

func muxArgs(video, source string, spans []ports.Span, audioCodec, out string) ([]string, error) {
	if len(spans) == 0 {
		return nil, errors.New("no audio spans")
	}
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", video,
		"-i", source,
		"-filter_complex", audioFilter(spans),
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", codecOrDefault(audioCodec),
		"-shortest",
		out,
	}, nil
}

func audioFilter(spans []ports.Span) string {
	var b strings.Builder
	for i, sp := range spans {
		fmt.Fprintf(&b, "[1:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS[a%d];", fmtSeconds(sp.Start), fmtSeconds(sp.End), i)
	}
	for i := range spans {
		fmt.Fprintf(&b, "[a%d]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=0:a=1[aout]", len(spans))
	return b.String()
}

func codecOrDefault(c string) string {
	if c == "" {
		return "libopus"
	}
	return c
}
