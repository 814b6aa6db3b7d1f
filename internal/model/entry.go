// Package model defines the records that flow from the adhoc reader through
// the processing pipeline to the emitters.
package model

import (
	"maps"
	"time"
)

// Metadata keys set on every entry produced from an adhoc job.
const (
	MetaJob    = "adhoc_job"
	MetaFile   = "adhoc_file"
	MetaOffset = "adhoc_offset"
)

// LogEntry represents a single log line flowing through the pipeline.
type LogEntry struct {
	// Timestamp is when the line was read from disk.
	Timestamp time.Time

	// Source is the job that produced this entry.
	Source string

	// File is the path the line was actually read from. It differs from the
	// discovered name when the file was rotated while the job was running.
	File string

	// Offset is the byte position of the line within File.
	Offset int64

	// Raw contains the line without its trailing newline.
	Raw []byte

	// Metadata contains enrichment data like hostname and static labels.
	Metadata map[string]string
}

// NewLogEntry creates a new LogEntry with initialized metadata and current timestamp.
func NewLogEntry(source string, raw []byte) *LogEntry {
	return &LogEntry{
		Timestamp: time.Now(),
		Source:    source,
		Raw:       raw,
		Metadata:  make(map[string]string),
	}
}

// Clone creates a deep copy of the LogEntry.
// Fan-out uses it so each emitter owns an independent copy.
func (e *LogEntry) Clone() *LogEntry {
	clone := &LogEntry{
		Timestamp: e.Timestamp,
		Source:    e.Source,
		File:      e.File,
		Offset:    e.Offset,
		Raw:       make([]byte, len(e.Raw)),
		Metadata:  make(map[string]string, len(e.Metadata)),
	}
	copy(clone.Raw, e.Raw)
	maps.Copy(clone.Metadata, e.Metadata)
	return clone
}
