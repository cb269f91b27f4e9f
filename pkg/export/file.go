// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jllopis/soundscape/pkg/errors"
)

const (
	// BuildingsFile holds the raw buildings payload of the latest cycle.
	BuildingsFile = "buildings.json"
	// ContentFile holds the latest extracted content as plain text.
	ContentFile = "music_prompt.txt"

	latestFile = "latest.json"
	contentDir = "content"
)

// FileExporter writes cycle artifacts under a directory. Every file is
// replaced atomically, so readers see either the old or the new version.
type FileExporter struct {
	dir string
	now func() time.Time

	mu     sync.RWMutex
	latest *Content
}

// NewFileExporter creates the directory if needed and reloads the
// last-known-good content left by a previous run.
func NewFileExporter(dir string) (*FileExporter, error) {
	if err := os.MkdirAll(filepath.Join(dir, contentDir), 0o755); err != nil {
		return nil, err
	}
	f := &FileExporter{dir: dir, now: time.Now}
	data, err := os.ReadFile(filepath.Join(dir, latestFile))
	switch {
	case err == nil:
		var c Content
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "corrupt "+latestFile, err)
		}
		f.latest = &c
	case !os.IsNotExist(err):
		return nil, err
	}
	return f, nil
}

// Dir returns the export directory.
func (f *FileExporter) Dir() string { return f.dir }

// ExportBuildings writes raw verbatim to buildings.json. A nil payload is
// written as JSON null.
func (f *FileExporter) ExportBuildings(_ context.Context, _ string, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return writeAtomic(filepath.Join(f.dir, BuildingsFile), raw)
}

// ExportContent archives text under content/<cycle>.txt, replaces the
// latest content file and returns the archive path relative to the
// export directory.
func (f *FileExporter) ExportContent(_ context.Context, cycleID, text string) (string, error) {
	if cycleID == "" {
		return "", errors.New(errors.CodeInvalidInput, "cycle id is required", nil)
	}
	ref := filepath.ToSlash(filepath.Join(contentDir, cycleID+".txt"))
	if err := writeAtomic(filepath.Join(f.dir, filepath.FromSlash(ref)), []byte(text)); err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(f.dir, ContentFile), []byte(text)); err != nil {
		return "", err
	}

	c := Content{CycleID: cycleID, Ref: ref, Text: text, ProducedAt: f.now().UTC()}
	meta, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(f.dir, latestFile), meta); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.latest = &c
	f.mu.Unlock()
	return ref, nil
}

// Latest returns the last-known-good content.
func (f *FileExporter) Latest(_ context.Context) (Content, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.latest == nil {
		return Content{}, errors.New(errors.CodeNotFound, "no content produced yet", nil)
	}
	return *f.latest, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
