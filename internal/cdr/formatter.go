package cdr

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// Formatter decides where a Record (and its associated media/dump files)
// land within a backend, independent of which backend actually writes them.
type Formatter interface {
	Format(r *Record) ([]byte, error)
	FormatFileName(r *Record) string
	FormatDumpEventsPath(r *Record) string
	FormatMediaPath(r *Record, m Media) string
}

// DefaultFormatter date-partitions every path under Root as
// {root}/{YYYYMMDD}/..., mirroring DefaultCallRecordFormatter.
type DefaultFormatter struct {
	Root string
}

// NewDefaultFormatter builds a DefaultFormatter rooted at root ("./cdr" if empty).
func NewDefaultFormatter(root string) *DefaultFormatter {
	if root == "" {
		root = "./cdr"
	}
	return &DefaultFormatter{Root: root}
}

func (f *DefaultFormatter) Format(r *Record) ([]byte, error) {
	return json.Marshal(r)
}

func (f *DefaultFormatter) dayDir(r *Record) string {
	return r.StartTime.Format("20060102")
}

func (f *DefaultFormatter) FormatFileName(r *Record) string {
	name := fmt.Sprintf("%s_%s.json", r.StartTime.Format("20060102-150405"), r.CallID)
	return filepath.Join(f.Root, f.dayDir(r), name)
}

func (f *DefaultFormatter) FormatDumpEventsPath(r *Record) string {
	return filepath.Join(f.Root, f.dayDir(r), r.CallID+".jsonl")
}

func (f *DefaultFormatter) FormatMediaPath(r *Record, m Media) string {
	name := filepath.Base(m.Path)
	return filepath.Join(f.Root, f.dayDir(r), fmt.Sprintf("%s_%s_%s", r.CallID, m.TrackID, name))
}
