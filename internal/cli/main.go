package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := &cobra.Command{
		Use:          "trigreel <input>",
		Short:        "Build a highlight reel from on-screen color triggers",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
	}

	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	// Visible flags
	root.Flags().String("out", "out", "Output directory")
	root.Flags().String("config", "trigreel.yaml", "Settings YAML file")
	root.Flags().String("triggers", "", "Triggers YAML file")
	root.Flags().StringArray("trigger", nil, "Trigger as label@T:x,y,w,h[#rrggbb][~tol] (repeatable)")
	root.Flags().Float64("speed", 0, "Scan playback rate (default from settings)")
	root.Flags().Float64("preroll", 0, "Seconds of lead-in before each event")
	root.Flags().Float64("clip", 0, "Clip duration in seconds")
	root.Flags().String("display", "", "Size WxH the trigger rects were measured on")
	root.Flags().Float64("fps", 30, "Export frame rate")
	root.Flags().Bool("scan-only", false, "Write the manifest without exporting a reel")
	root.Flags().Bool("stills", false, "Save a full-size frame at each highlight's clip start")
	root.Flags().BoolP("verbose", "v", false, "Debug logging")

	// Hidden tooling flags (internal)
	root.Flags().String("ffmpeg", "ffmpeg", "ffmpeg binary")
	root.Flags().String("ffprobe", "ffprobe", "ffprobe binary")
	_ = root.Flags().MarkHidden("ffmpeg")
	_ = root.Flags().MarkHidden("ffprobe")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
