package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/trigreel/internal/logging"
	"github.com/forPelevin/trigreel/internal/pipeline"
	"github.com/forPelevin/trigreel/internal/settings"
	"github.com/forPelevin/trigreel/internal/usecase"
)

func run(cmd *cobra.Command, input string) error {
	outDir, _ := cmd.Flags().GetString("out")
	configPath, _ := cmd.Flags().GetString("config")
	triggersPath, _ := cmd.Flags().GetString("triggers")
	triggerFlags, _ := cmd.Flags().GetStringArray("trigger")
	display, _ := cmd.Flags().GetString("display")
	fps, _ := cmd.Flags().GetFloat64("fps")
	scanOnly, _ := cmd.Flags().GetBool("scan-only")
	stills, _ := cmd.Flags().GetBool("stills")
	verbose, _ := cmd.Flags().GetBool("verbose")
	ffmpegPath, _ := cmd.Flags().GetString("ffmpeg")
	ffprobePath, _ := cmd.Flags().GetString("ffprobe")

	logger := logging.Init(verbose)

	st, err := settings.Load(configPath)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if err := applySettingFlags(cmd, &st); err != nil {
		return err
	}

	trs, err := collectTriggers(triggersPath, triggerFlags)
	if err != nil {
		return err
	}
	if len(trs) == 0 {
		return errors.New("no triggers: pass --trigger or --triggers")
	}

	ds, err := parseDisplay(display)
	if err != nil {
		return err
	}

	absIn, err := filepath.Abs(input)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Hour)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cfg := pipeline.Config{
		Input:       absIn,
		OutDir:      outDir,
		Settings:    st,
		Triggers:    trs,
		DisplaySize: ds,
		FPS:         fps,
		ScanOnly:    scanOnly,
		Stills:      stills,
		Logger:      logger,
		Logf:        logging.Logf(logging.WithComponent(logger, "pipeline")),

		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return pipeline.Run(ctx, cfg)
}

// applySettingFlags overrides loaded settings with flags the user set.
func applySettingFlags(cmd *cobra.Command, st *settings.Settings) error {
	f := cmd.Flags()
	if f.Changed("speed") {
		st.ScanSpeed, _ = f.GetFloat64("speed")
	}
	if f.Changed("preroll") {
		v, _ := f.GetFloat64("preroll")
		st.PreRoll = seconds(v)
	}
	if f.Changed("clip") {
		v, _ := f.GetFloat64("clip")
		st.ClipDuration = seconds(v)
	}
	if err := st.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

func collectTriggers(path string, flags []string) ([]usecase.TriggerInput, error) {
	var out []usecase.TriggerInput
	if path != "" {
		fromFile, err := loadTriggerFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}
	for _, s := range flags {
		in, err := parseTriggerFlag(s)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}
