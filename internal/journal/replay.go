package journal

import (
	"bytes"
	"fmt"
)

// CorruptionError reports a specific structural failure found replaying the
// journal, naming the line so an operator doesn't have to bisect the file
// by hand.
type CorruptionError struct {
	LineNumber int // 1-indexed.
	Line       string
	Cause      error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupt record at line %d (%q): %v", e.LineNumber, e.Line, e.Cause)
}

func (e *CorruptionError) Unwrap() error { return e.Cause }

// split separates |data| into (clean, torn): |clean| is the longest prefix
// of |data| ending in a complete, newline-terminated line; |torn| is
// whatever unterminated bytes (if any) follow, to be discarded per spec
// §4.3's torn-write handling. If |data| is empty or fully newline
// terminated, torn is empty.
func split(data []byte) (clean, torn []byte) {
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return data, nil
	}
	var idx = bytes.LastIndexByte(data, '\n')
	if idx < 0 {
		return nil, data // The entire file is one unterminated line.
	}
	return data[:idx+1], data[idx+1:]
}

// replay parses the complete, newline-terminated lines of |data| into
// Records in file order. It does not itself handle torn-write truncation;
// callers should pass split(data)'s clean half. A line that fails to parse
// is reported as a *CorruptionError and replay aborts — spec §4.1 requires
// startup to abort on internal corruption, as opposed to a torn final line
// (which is silently discarded before replay even begins).
func replay(clean []byte) ([]Record, error) {
	var records []Record
	var lineNo int

	for len(clean) > 0 {
		lineNo++
		var idx = bytes.IndexByte(clean, '\n')
		var line = string(clean[:idx])
		clean = clean[idx+1:]

		if line == "" {
			continue // Tolerate blank lines (eg, from manual inspection edits).
		}
		var rec, err = Parse(line)
		if err != nil {
			return nil, &CorruptionError{LineNumber: lineNo, Line: line, Cause: err}
		}
		records = append(records, rec)
	}
	return records, nil
}
