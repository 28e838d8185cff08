// Package journal implements the append-only, line-oriented transaction log
// of spec §4.3: the issuance engine's sole source of durable truth. A
// Journal is opened once by the engine at startup, which also replays its
// existing content to reconstruct class state, and is thereafter only ever
// appended to from the engine's single decision path.
package journal

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Journal wraps an append-mode file with durable-write semantics: Append
// does not return until the record's bytes are flushed to the OS and the
// file descriptor is synced to stable storage (spec's "commit point").
type Journal struct {
	file *os.File
	mu   sync.Mutex // Defensive: the engine's own single-writer discipline already serializes Append.
}

// Open opens (creating if necessary) the journal file at |path|, discards
// a torn final write if present, and replays the remainder into a slice of
// Records in commit order. The returned Journal is positioned for
// subsequent Appends.
func Open(path string) (*Journal, []Record, error) {
	var f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "opening journal file")
	}

	var data []byte
	if data, err = io.ReadAll(f); err != nil {
		_ = f.Close()
		return nil, nil, errors.WithMessage(err, "reading journal file")
	}

	var clean, torn = split(data)
	if len(torn) > 0 {
		log.WithFields(log.Fields{
			"path":      path,
			"tornBytes": len(torn),
		}).Warn("discarding torn final journal write")
		if err = f.Truncate(int64(len(clean))); err != nil {
			_ = f.Close()
			return nil, nil, errors.WithMessage(err, "truncating torn write")
		}
	}

	var records []Record
	if records, err = replay(clean); err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	if _, err = f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, nil, errors.WithMessage(err, "seeking to journal end")
	}

	return &Journal{file: f}, records, nil
}

// Append durably writes |rec| as the next line of the journal. It returns
// only after the bytes have been flushed and fsync'd — the commit point
// spec §4.3 defines. A non-nil error here is, per spec §4.1/§7, fatal to
// the engine process: memory state must never diverge from durable truth.
func (j *Journal) Append(rec Record) error {
	var line, err = Format(rec)
	if err != nil {
		return err
	}
	line += "\n"

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err = j.file.WriteString(line); err != nil {
		return errors.WithMessage(err, "writing journal record")
	}
	if err = fsync(j.file); err != nil {
		return errors.WithMessage(err, "syncing journal record")
	}
	return nil
}

// Close syncs and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_ = fsync(j.file)
	return j.file.Close()
}

// Path returns the filesystem path the Journal was opened from.
func (j *Journal) Path() string { return j.file.Name() }
