package types

import (
	"image"
	"math"
	"time"
)

// Rect is a region in display coordinates.
type Rect struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

func (r Rect) Valid() bool { return r.W > 0 && r.H > 0 }

// Scale maps the rect from display space to source-frame space.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{X: r.X * sx, Y: r.Y * sy, W: r.W * sx, H: r.H * sy}
}

// Image floors the origin and ceils the far corner so fractional rects never
// shrink to zero area.
func (r Rect) Image() image.Rectangle {
	x0 := int(math.Floor(r.X))
	y0 := int(math.Floor(r.Y))
	x1 := int(math.Ceil(r.X + r.W))
	y1 := int(math.Ceil(r.Y + r.H))
	return image.Rect(x0, y0, x1, y1)
}

type RGB struct {
	R uint8 `json:"r" yaml:"r"`
	G uint8 `json:"g" yaml:"g"`
	B uint8 `json:"b" yaml:"b"`
}

type Trigger struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Rect      Rect    `json:"rect"`
	Color     RGB     `json:"color"`
	Tolerance float64 `json:"tolerance"`
}

type Highlight struct {
	ID        string
	Time      time.Duration
	EventTime time.Duration
	Type      string
	Thumbnail []byte
}

type Manifest struct {
	Input      string              `json:"input"`
	Output     string              `json:"output,omitempty"`
	Settings   ManifestSettings    `json:"settings"`
	Triggers   []ManifestTrigger   `json:"triggers"`
	Highlights []ManifestHighlight `json:"highlights"`
}

type ManifestSettings struct {
	ScanSpeed       float64 `json:"scan_speed"`
	PreRollSec      float64 `json:"preroll_sec"`
	ClipDurationSec float64 `json:"clip_duration_sec"`
}

type ManifestTrigger struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Rect      Rect    `json:"rect"`
	Color     string  `json:"color"`
	Tolerance float64 `json:"tolerance"`
}

type ManifestHighlight struct {
	ID           string  `json:"id"`
	StartSec     float64 `json:"start_sec"`
	EventTimeSec float64 `json:"event_time_sec"`
	Type         string  `json:"type"`
	Thumbnail    string  `json:"thumbnail"`
	Still        string  `json:"still,omitempty"`
}
