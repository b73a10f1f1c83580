//go:build integration

package itest

import (
	"os/exec"
	"path/filepath"
	"testing"
)

// makeScoreboardFixture renders a blue clip with a red box that is on screen
// between 12s and 16s, plus a sine tone.
func makeScoreboardFixture(t *testing.T, dir string) string {
	t.Helper()
	in := filepath.Join(dir, "scoreboard.mp4")
	ff := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", "color=c=blue:s=320x180:d=24:r=30",
		"-f", "lavfi",
		"-i", "sine=frequency=440:duration=24",
		"-vf", "drawbox=x=20:y=20:w=60:h=30:color=red:t=fill:enable='between(t,12,16)'",
		"-shortest",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		in,
	)
	if b, err := ff.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg fixture failed: %v\n%s", err, string(b))
	}
	return in
}
