package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/forPelevin/trigreel/internal/ports"
)

const DefaultReelName = "highlights.webm"

// Saver moves finished artifacts into a run directory.
type Saver struct {
	dir  string
	name string
}

func NewSaver(dir, name string) *Saver {
	if name == "" {
		name = DefaultReelName
	}
	return &Saver{dir: dir, name: name}
}

func (s *Saver) Save(_ context.Context, a *ports.Artifact) (string, error) {
	if a == nil || a.Path == "" {
		return "", errors.New("no artifact to save")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(s.dir, s.name)
	if err := os.Rename(a.Path, dst); err != nil {
		// cross-device work dirs fall back to a copy
		if cerr := copyFile(a.Path, dst); cerr != nil {
			return "", fmt.Errorf("save artifact: %w", cerr)
		}
		_ = os.Remove(a.Path)
	}
	return dst, nil
}

// WriteThumbnail stores a highlight thumbnail and returns its path relative
// to the run directory.
func (s *Saver) WriteThumbnail(id string, jpeg []byte) (string, error) {
	return s.writeImage("thumbnails", id, jpeg)
}

// WriteStill stores a full-size highlight frame.
func (s *Saver) WriteStill(id string, jpeg []byte) (string, error) {
	return s.writeImage("stills", id, jpeg)
}

func (s *Saver) writeImage(sub, id string, jpeg []byte) (string, error) {
	rel := filepath.Join(sub, id+".jpg")
	abs := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, jpeg, 0o644); err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

var _ ports.Saver = (*Saver)(nil)
