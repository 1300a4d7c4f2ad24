// Package journal implements the durable, append-only turn log.
//
// Each line of the file is one JSON object {"id","user","bot"}. Lines are
// only ever appended, so the file can be truncated or hand-edited at line
// boundaries without affecting the other lines.
package journal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/becomeliminal/nim-recall/memory"
)

// Journal appends turns to a JSONL file.
// The write handle is opened once and held until Close. Journal is not safe
// for concurrent use.
type Journal struct {
	path   string
	file   *os.File
	logger *slog.Logger
}

// Open opens path for appending, creating it and its parent directories.
// If logger is nil, the default slog logger is used.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	j := &Journal{
		path:   path,
		file:   f,
		logger: logger.With("component", "JOURNAL"),
	}
	if err := j.terminateTornLine(); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

// terminateTornLine ends a partial last line left by a crashed writer, so
// the next record starts on a line of its own.
func (j *Journal) terminateTornLine() error {
	info, err := j.file.Stat()
	if err != nil {
		return fmt.Errorf("journal: stat %s: %w", j.path, err)
	}
	if info.Size() == 0 {
		return nil
	}

	r, err := os.Open(j.path)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", j.path, err)
	}
	defer r.Close()

	last := make([]byte, 1)
	if _, err := r.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("journal: read tail of %s: %w", j.path, err)
	}
	if last[0] == '\n' {
		return nil
	}

	j.logger.Warn("journal ends with a partial line; terminating it", "path", j.path)
	if _, err := j.file.WriteString("\n"); err != nil {
		return fmt.Errorf("journal: terminate partial line: %w", err)
	}
	return nil
}

// Path returns the file the journal writes to.
func (j *Journal) Path() string {
	return j.path
}

// Append writes the turn as one line. The line is written in a single call
// so a crash cannot interleave partial records.
func (j *Journal) Append(_ context.Context, turn memory.Turn) error {
	if j.file == nil {
		return errors.New("journal: closed")
	}
	doc, err := turn.Marshal()
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if _, err := j.file.WriteString(doc + "\n"); err != nil {
		return fmt.Errorf("journal: write %s: %w", turn.ID, err)
	}
	return nil
}

// LoadAll reads every turn in file order. Blank lines are ignored and lines
// that do not decode are logged and skipped. A missing file is empty.
func (j *Journal) LoadAll(ctx context.Context) ([]memory.Turn, error) {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", j.path, err)
	}
	defer f.Close()

	var turns []memory.Turn
	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return turns, err
		}

		// ReadBytes rather than a Scanner: turns have no length limit.
		line, readErr := r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return turns, fmt.Errorf("journal: read line %d: %w", lineNo, readErr)
		}

		if line = bytes.TrimSpace(line); len(line) > 0 {
			turn, err := memory.UnmarshalTurn(string(line))
			if err != nil {
				j.logger.Warn("skipping malformed line", "line", lineNo, "path", j.path, "err", err)
			} else {
				turns = append(turns, turn)
			}
		}

		if errors.Is(readErr, io.EOF) {
			return turns, nil
		}
	}
}

// Close closes the write handle.
func (j *Journal) Close() error {
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

var _ memory.Journal = (*Journal)(nil)
