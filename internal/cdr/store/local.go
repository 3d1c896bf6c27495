// Package store implements the three CDR backends: local
// filesystem, an S3-compatible object store, or an HTTP multipart endpoint.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/restsend/active-call/internal/cdr"
)

// Local writes the record JSON (and, if configured, copies of its media
// files) directly under the formatter's date-partitioned path on local disk.
// The JSONL dump file is not copied.
type Local struct {
	Formatter     cdr.Formatter
	WithMedia     bool
	KeepMediaCopy bool
}

func (l *Local) Save(ctx context.Context, r *cdr.Record) error {
	body, err := l.Formatter.Format(r)
	if err != nil {
		return fmt.Errorf("cdr: format record: %w", err)
	}
	name := l.Formatter.FormatFileName(r)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("cdr: create dir for %s: %w", name, err)
	}
	if err := os.WriteFile(name, body, 0o644); err != nil {
		return fmt.Errorf("cdr: write %s: %w", name, err)
	}

	if l.WithMedia {
		for _, m := range r.Recorder {
			if err := l.copyMedia(r, m); err != nil {
				return err
			}
		}
	}
	if !l.KeepMediaCopy {
		for _, m := range r.Recorder {
			os.Remove(m.Path)
		}
	}
	return nil
}

func (l *Local) copyMedia(r *cdr.Record, m cdr.Media) error {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cdr: read media %s: %w", m.Path, err)
	}
	dst := l.Formatter.FormatMediaPath(r, m)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("cdr: create media dir for %s: %w", dst, err)
	}
	return os.WriteFile(dst, data, 0o644)
}
