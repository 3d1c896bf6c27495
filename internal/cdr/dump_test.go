package cdr

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileDumpSinkAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	formatter := NewDefaultFormatter(dir)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	sink, err := OpenFileDumpSink(formatter, "call-123", start)
	require.NoError(t, err)

	sink.Write(EventRecordCommand, `{"command":"invite"}`)
	sink.Write(EventRecordEvent, `{"event":"answer"}`)

	require.NoError(t, sink.Close())

	path := formatter.FormatDumpEventsPath(&Record{CallID: "call-123", StartTime: start})
	require.Equal(t, path, sink.Path())
	require.True(t, strings.HasSuffix(path, "call-123.jsonl"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []EventRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec EventRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	require.Equal(t, EventRecordCommand, lines[0].Type)
	require.Equal(t, `{"command":"invite"}`, lines[0].Content)
	require.Equal(t, EventRecordEvent, lines[1].Type)
	require.Equal(t, `{"event":"answer"}`, lines[1].Content)
}

func TestFileDumpSinkCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sink, err := OpenFileDumpSink(NewDefaultFormatter(dir), "call-456", time.Now())
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close(), "second Close should be a no-op")

	// Writing after Close must not panic, just silently do nothing.
	sink.Write(EventRecordEvent, "ignored")
}
