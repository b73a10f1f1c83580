package settings

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is read by the scan engine on every tick and by the compositor on
// every clip.
type Settings struct {
	ScanSpeed    float64
	PreRoll      time.Duration
	ClipDuration time.Duration
}

func Defaults() Settings {
	return Settings{
		ScanSpeed:    4,
		PreRoll:      5 * time.Second,
		ClipDuration: 10 * time.Second,
	}
}

func (s Settings) Validate() error {
	if s.ScanSpeed < 1 {
		return errors.New("scan speed must be >= 1")
	}
	if s.PreRoll < 0 {
		return errors.New("preroll must be >= 0")
	}
	if s.ClipDuration <= 0 {
		return errors.New("clip duration must be > 0")
	}
	return nil
}

// Store is a concurrency-safe holder so settings can change mid-scan.
type Store struct {
	mu sync.RWMutex
	s  Settings
}

func NewStore(s Settings) *Store { return &Store{s: s} }

func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

func (st *Store) Set(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	st.s = s
	st.mu.Unlock()
	return nil
}

type fileSettings struct {
	ScanSpeed       *float64 `yaml:"scan_speed"`
	PreRollSec      *float64 `yaml:"preroll_sec"`
	ClipDurationSec *float64 `yaml:"clip_duration_sec"`
}

// Load reads a YAML settings file on top of Defaults. A missing file is not an
// error. Environment overrides are applied afterwards.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			var fs fileSettings
			if err := yaml.Unmarshal(b, &fs); err != nil {
				return s, fmt.Errorf("parse settings %s: %w", path, err)
			}
			if fs.ScanSpeed != nil {
				s.ScanSpeed = *fs.ScanSpeed
			}
			if fs.PreRollSec != nil {
				s.PreRoll = seconds(*fs.PreRollSec)
			}
			if fs.ClipDurationSec != nil {
				s.ClipDuration = seconds(*fs.ClipDurationSec)
			}
		case os.IsNotExist(err):
		default:
			return s, err
		}
	}
	if err := applyEnv(&s); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func applyEnv(s *Settings) error {
	for _, e := range []struct {
		key string
		set func(float64)
	}{
		{"TRIGREEL_SCAN_SPEED", func(v float64) { s.ScanSpeed = v }},
		{"TRIGREEL_PREROLL", func(v float64) { s.PreRoll = seconds(v) }},
		{"TRIGREEL_CLIP_DURATION", func(v float64) { s.ClipDuration = seconds(v) }},
	} {
		raw := os.Getenv(e.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		e.set(v)
	}
	return nil
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }
