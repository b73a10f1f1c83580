package cli

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forPelevin/trigreel/internal/domain/colors"
	"github.com/forPelevin/trigreel/internal/domain/triggers"
	"github.com/forPelevin/trigreel/internal/types"
	"github.com/forPelevin/trigreel/internal/usecase"
)

// Rects smaller than this on screen are almost always a mis-drag.
const minRectSide = 10

type triggerFile struct {
	Triggers []triggerEntry `yaml:"triggers"`
}

type triggerEntry struct {
	Label     string     `yaml:"label"`
	At        float64    `yaml:"at"`
	Rect      types.Rect `yaml:"rect"`
	Color     string     `yaml:"color"`
	Tolerance *float64   `yaml:"tolerance"`
}

func loadTriggerFile(path string) ([]usecase.TriggerInput, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f triggerFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse triggers %s: %w", path, err)
	}
	out := make([]usecase.TriggerInput, 0, len(f.Triggers))
	for i, e := range f.Triggers {
		in := usecase.TriggerInput{
			Label:     e.Label,
			Rect:      e.Rect,
			At:        seconds(e.At),
			Tolerance: triggers.DefaultTolerance,
		}
		if e.Tolerance != nil {
			in.Tolerance = *e.Tolerance
		}
		if e.Color != "" {
			c, err := colors.ParseHex(e.Color)
			if err != nil {
				return nil, fmt.Errorf("trigger %d: %w", i+1, err)
			}
			in.Color = &c
		}
		if err := checkTrigger(in, e.At); err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i+1, err)
		}
		out = append(out, in)
	}
	return out, nil
}

// parseTriggerFlag reads "label@T:x,y,w,h[#rrggbb][~tol]" with T in seconds.
func parseTriggerFlag(s string) (usecase.TriggerInput, error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return usecase.TriggerInput{}, fmt.Errorf("trigger %q: expected label@T:x,y,w,h", s)
	}
	in := usecase.TriggerInput{Label: s[:at], Tolerance: triggers.DefaultTolerance}

	rest := s[at+1:]
	ts, geom, ok := strings.Cut(rest, ":")
	if !ok {
		return usecase.TriggerInput{}, fmt.Errorf("trigger %q: missing ':' after time", s)
	}
	sec, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return usecase.TriggerInput{}, fmt.Errorf("trigger %q: bad time: %w", s, err)
	}
	in.At = seconds(sec)

	if g, tol, ok := strings.Cut(geom, "~"); ok {
		v, err := strconv.ParseFloat(tol, 64)
		if err != nil {
			return usecase.TriggerInput{}, fmt.Errorf("trigger %q: bad tolerance: %w", s, err)
		}
		in.Tolerance = v
		geom = g
	}
	if g, hex, ok := strings.Cut(geom, "#"); ok {
		c, err := colors.ParseHex(hex)
		if err != nil {
			return usecase.TriggerInput{}, fmt.Errorf("trigger %q: %w", s, err)
		}
		in.Color = &c
		geom = g
	}

	parts := strings.Split(geom, ",")
	if len(parts) != 4 {
		return usecase.TriggerInput{}, fmt.Errorf("trigger %q: rect must be x,y,w,h", s)
	}
	var v [4]float64
	for i, p := range parts {
		v[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return usecase.TriggerInput{}, fmt.Errorf("trigger %q: bad rect: %w", s, err)
		}
	}
	in.Rect = types.Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}

	if err := checkTrigger(in, sec); err != nil {
		return usecase.TriggerInput{}, fmt.Errorf("trigger %q: %w", s, err)
	}
	return in, nil
}

func checkTrigger(in usecase.TriggerInput, atSec float64) error {
	if in.Rect.W < minRectSide || in.Rect.H < minRectSide {
		return fmt.Errorf("rect must be at least %dx%d, got %gx%g", minRectSide, minRectSide, in.Rect.W, in.Rect.H)
	}
	if in.Rect.X < 0 || in.Rect.Y < 0 {
		return errors.New("rect origin must be >= 0")
	}
	if in.Tolerance < 0 {
		return triggers.ErrNegativeTolerance
	}
	if atSec < 0 {
		return errors.New("sample time must be >= 0")
	}
	return nil
}

func parseDisplay(s string) (image.Point, error) {
	if s == "" {
		return image.Point{}, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return image.Point{}, fmt.Errorf("display %q: expected WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return image.Point{}, fmt.Errorf("display %q: %w", s, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return image.Point{}, fmt.Errorf("display %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return image.Point{}, fmt.Errorf("display %q: sides must be > 0", s)
	}
	return image.Pt(w, h), nil
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }
