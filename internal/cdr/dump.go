package cdr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileDumpSink appends one JSON line per event/command to the call's
// {root}/{date}/{call_id}.jsonl file (persisted state layout),
// following the same date-partitioned path a Formatter would assign the
// call's eventual CDR. Writes are best-effort: a dump failure never aborts
// the call, it only logs (via the caller) once Close reports it.
type FileDumpSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenFileDumpSink creates (or appends to) the JSONL dump file for a call
// starting at startTime, under formatter's path scheme.
func OpenFileDumpSink(formatter Formatter, callID string, startTime time.Time) (*FileDumpSink, error) {
	path := formatter.FormatDumpEventsPath(&Record{CallID: callID, StartTime: startTime})
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cdr: dump dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cdr: open dump file: %w", err)
	}
	return &FileDumpSink{f: f, path: path}, nil
}

// Path returns the dump file's location, to be stashed on the Record once
// the call finishes (Record.DumpEventFile).
func (s *FileDumpSink) Path() string { return s.path }

// Write appends one EventRecord line. Marshal/write errors are swallowed
// here (the dump is diagnostic, not the call's source of truth) but could be
// surfaced through a logger if one were threaded in.
func (s *FileDumpSink) Write(typ EventRecordType, content string) {
	line, err := json.Marshal(EventRecord{
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
		Content:   content,
	})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	s.f.Write(line)
	s.f.Write([]byte("\n"))
}

// Close flushes and closes the underlying file; safe to call more than once.
func (s *FileDumpSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
