package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/forPelevin/trigreel/internal/domain/colors"
	"github.com/forPelevin/trigreel/internal/domain/export"
	"github.com/forPelevin/trigreel/internal/domain/highlights"
	"github.com/forPelevin/trigreel/internal/domain/scan"
	"github.com/forPelevin/trigreel/internal/domain/session"
	"github.com/forPelevin/trigreel/internal/domain/triggers"
	"github.com/forPelevin/trigreel/internal/ports"
	"github.com/forPelevin/trigreel/internal/ports/adapters/canvas"
	"github.com/forPelevin/trigreel/internal/ports/adapters/disk"
	"github.com/forPelevin/trigreel/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/trigreel/internal/settings"
	"github.com/forPelevin/trigreel/internal/types"
	"github.com/forPelevin/trigreel/internal/usecase"
)

type Config struct {
	Input    string
	OutDir   string
	Settings settings.Settings
	Triggers []usecase.TriggerInput

	// DisplaySize is the frame size trigger rects were measured on. Zero
	// means source pixels.
	DisplaySize image.Point
	FPS         float64
	ScanOnly    bool
	// Stills writes a full-size frame at each clip start next to the manifest.
	Stills bool

	Logger zerolog.Logger
	Logf   func(format string, args ...any)

	// CacheDir holds encoder scratch files. If empty, defaults to ".cache".
	CacheDir string

	FFmpegPath  string
	FFprobePath string
}

func (c Config) Validate() error {
	if c.Input == "" {
		return errors.New("input is empty")
	}
	if _, err := os.Stat(c.Input); err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	if len(c.Triggers) == 0 {
		return errors.New("at least one trigger is required")
	}
	for i, t := range c.Triggers {
		if !t.Rect.Valid() {
			return fmt.Errorf("trigger %d: %w", i+1, triggers.ErrInvalidRect)
		}
		if t.Tolerance < 0 {
			return fmt.Errorf("trigger %d: %w", i+1, triggers.ErrNegativeTolerance)
		}
	}
	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be > 0")
	}
	if (c.DisplaySize.X > 0) != (c.DisplaySize.Y > 0) || c.DisplaySize.X < 0 || c.DisplaySize.Y < 0 {
		return fmt.Errorf("display size must be WxH with both sides > 0")
	}
	return nil
}

func Run(ctx context.Context, cfg Config) error {
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	logger := cfg.Logger

	// adapters
	v := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath, logger)
	player, err := v.Open(ctx, cfg.Input, ffmpeg.PlayerOptions{})
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer player.Close()
	info := player.Info()
	logf("input: %dx%d, %s, audio=%t", info.Width, info.Height, info.Duration.Round(time.Millisecond), info.HasAudio)

	jobID := hash(cfg.Input)
	baseCache := cfg.CacheDir
	if baseCache == "" {
		baseCache = ".cache"
	}
	cacheDir := filepath.Join(baseCache, "runs", jobID)
	logf("preparing workspace")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return err
	}

	outDir := cfg.OutDir
	if outDir == "" {
		outDir = "out"
	}
	runOutDir := buildRunOutDir(outDir, cfg.Input, time.Now().UTC())
	if err := os.MkdirAll(runOutDir, 0o755); err != nil {
		return err
	}
	logf("output run dir: %s", runOutDir)
	saver := disk.NewSaver(runOutDir, disk.DefaultReelName)

	reg := triggers.NewRegistry()
	store := highlights.NewStore()
	st := settings.NewStore(cfg.Settings)
	gate := &session.Gate{}

	engine := scan.New(scan.Deps{
		Source:      player,
		Triggers:    reg,
		Highlights:  store,
		Settings:    st,
		Gate:        gate,
		NewSurface:  canvas.Factory,
		Logger:      logger,
		DisplaySize: cfg.DisplaySize,
		OnProgress:  progressLogger("scan", logf),
		OnHighlight: func(h types.Highlight) {
			logf("highlight %q at %s (clip from %s)", h.Type, fmtDur(h.EventTime), fmtDur(h.Time))
		},
	})
	comp := export.New(export.Deps{
		Source:     player,
		Highlights: store,
		Settings:   st,
		Gate:       gate,
		NewSurface: canvas.Factory,
		Encoder:    v.NewEncoder(cacheDir),
		Saver:      saver,
		FPS:        cfg.FPS,
		Logger:     logger,
		OnProgress: progressLogger("export", logf),
	})
	uc := usecase.New(usecase.Deps{
		Source:      player,
		NewSurface:  canvas.Factory,
		Triggers:    reg,
		Highlights:  store,
		Scanner:     engine,
		Exporter:    comp,
		DisplaySize: cfg.DisplaySize,
	})

	logf("scanning at %.1fx", cfg.Settings.ScanSpeed)
	trs, n, err := uc.Detect(ctx, cfg.Triggers)
	for _, tr := range trs {
		logf("trigger %q: %s tolerance %.0f", tr.Label, colors.Hex(tr.Color), tr.Tolerance)
	}
	if err != nil {
		return err
	}
	logf("scan complete: %d highlights", n)

	stills := map[string]string{}
	if cfg.Stills {
		for _, h := range store.Chronological() {
			b, err := uc.Still(ctx, h.ID)
			if err != nil {
				return fmt.Errorf("still %s: %w", h.ID, err)
			}
			rel, err := saver.WriteStill(h.ID, b)
			if err != nil {
				return fmt.Errorf("write still: %w", err)
			}
			stills[h.ID] = rel
		}
		logf("wrote %d stills", len(stills))
	}

	m, err := buildManifest(cfg.Input, cfg.Settings, reg.All(), store.Chronological(), saver)
	if err != nil {
		return err
	}
	for i := range m.Highlights {
		m.Highlights[i].Still = stills[m.Highlights[i].ID]
	}
	manifestPath := filepath.Join(runOutDir, "manifest.json")
	if err := writeManifest(manifestPath, m); err != nil {
		return err
	}
	logf("manifest written (%d highlights): %s", len(m.Highlights), manifestPath)

	if cfg.ScanOnly || store.Len() == 0 {
		return nil
	}

	art, err := uc.Export(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if art == nil {
		return nil
	}
	rel, err := filepath.Rel(runOutDir, art.Path)
	if err != nil {
		rel = art.Path
	}
	m.Output = filepath.ToSlash(rel)
	if err := writeManifest(manifestPath, m); err != nil {
		return err
	}
	logf("reel written: %s", art.Path)
	return nil
}

type thumbnailWriter interface {
	WriteThumbnail(id string, jpeg []byte) (string, error)
}

func buildManifest(input string, st settings.Settings, trs []types.Trigger, hs []types.Highlight, w thumbnailWriter) (types.Manifest, error) {
	m := types.Manifest{
		Input: input,
		Settings: types.ManifestSettings{
			ScanSpeed:       st.ScanSpeed,
			PreRollSec:      st.PreRoll.Seconds(),
			ClipDurationSec: st.ClipDuration.Seconds(),
		},
		Triggers:   make([]types.ManifestTrigger, 0, len(trs)),
		Highlights: make([]types.ManifestHighlight, 0, len(hs)),
	}
	for _, t := range trs {
		m.Triggers = append(m.Triggers, types.ManifestTrigger{
			ID:        t.ID,
			Label:     t.Label,
			Rect:      t.Rect,
			Color:     colors.Hex(t.Color),
			Tolerance: t.Tolerance,
		})
	}
	for _, h := range hs {
		mh := types.ManifestHighlight{
			ID:           h.ID,
			StartSec:     h.Time.Seconds(),
			EventTimeSec: h.EventTime.Seconds(),
			Type:         h.Type,
		}
		if len(h.Thumbnail) > 0 {
			rel, err := w.WriteThumbnail(h.ID, h.Thumbnail)
			if err != nil {
				return types.Manifest{}, fmt.Errorf("write thumbnail: %w", err)
			}
			mh.Thumbnail = rel
		}
		m.Highlights = append(m.Highlights, mh)
	}
	return m, nil
}

func writeManifest(path string, m types.Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// progressLogger reports every 10%.
func progressLogger(stage string, logf func(string, ...any)) func(float64) {
	last := -1
	return func(pct float64) {
		bucket := int(pct) / 10
		if bucket <= last {
			return
		}
		last = bucket
		logf("%s: %d%%", stage, bucket*10)
	}
}

func fmtDur(d time.Duration) string {
	return d.Round(100 * time.Millisecond).String()
}

func buildRunOutDir(outRoot, input string, now time.Time) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", input, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var _ ports.MediaSource = (*ffmpeg.Player)(nil)
var _ ports.Encoder = (*ffmpeg.Encoder)(nil)
var _ ports.Saver = (*disk.Saver)(nil)
var _ usecase.Scanner = (*scan.Engine)(nil)
var _ usecase.Exporter = (*export.Compositor)(nil)
