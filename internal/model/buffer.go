package model

import (
	"bytes"
	"strconv"
	"time"
)

// LogBuffer is one chunk read from a file by the adhoc engine. Data always
// ends on a line boundary unless it holds the final bytes of the file.
type LogBuffer struct {
	JobName  string
	FilePath string
	// Offset is the position of Data[0] within FilePath.
	Offset   int64
	Data     []byte
	QueueKey string
	ReadAt   time.Time
}

// Entries splits the buffer into one LogEntry per line. Empty lines are
// skipped and a trailing "\r" is trimmed.
func (b *LogBuffer) Entries() []*LogEntry {
	entries := make([]*LogEntry, 0, bytes.Count(b.Data, []byte{'\n'})+1)

	data := b.Data
	pos := b.Offset
	for len(data) > 0 {
		line := data
		next := len(data)
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i]
			next = i + 1
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})

		if len(line) > 0 {
			entry := NewLogEntry(b.JobName, line)
			entry.Timestamp = b.ReadAt
			entry.File = b.FilePath
			entry.Offset = pos
			entry.Metadata[MetaJob] = b.JobName
			entry.Metadata[MetaFile] = b.FilePath
			entry.Metadata[MetaOffset] = strconv.FormatInt(pos, 10)
			entries = append(entries, entry)
		}

		data = data[next:]
		pos += int64(next)
	}
	return entries
}
