package recordlog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// File is an append-only, framed record log backed by a single *os.File.
// It is owned exclusively by one goroutine (the Raft driver) except for
// Commit, which the fsync worker is also permitted to call (spec.md §5).
//
// Frame layout: a 4-byte big-endian length prefix followed by the JSON
// encoding of a Record. The file begins with the fixed Magic string and a
// newline before the first frame.
type File struct {
	path string
	f    *os.File
}

// Create makes a brand new record log at path, writing the magic header and
// the given Header/Snapshot records. It fails if the file already exists.
func Create(path string, header, snapshot Record) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("recordlog: create %s: %w", path, err)
	}

	lf := &File{path: path, f: f}
	if _, err := f.WriteString(Magic + "\n"); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("recordlog: write magic: %w", err)
	}
	if err := lf.AppendRecord(header); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := lf.AppendRecord(snapshot); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return lf, nil
}

// Open opens an existing record log for append, positioned at end-of-file.
// It does not itself replay records; callers use NewReader for that before
// reopening for append, since a single *os.File cursor can't do both at
// once conveniently.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("recordlog: open %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("recordlog: seek %s: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

// Path returns the file's path on disk.
func (lf *File) Path() string { return lf.path }

// AppendRecord serializes and writes rec as the next frame. It does not
// fsync; callers schedule an explicit Commit (directly, or via the fsync
// worker) before treating the write as durable.
func (lf *File) AppendRecord(rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("recordlog: marshal record: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := lf.f.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("recordlog: write frame length: %w", err)
	}
	if _, err := lf.f.Write(body); err != nil {
		return fmt.Errorf("recordlog: write frame body: %w", err)
	}
	return nil
}

// Commit fsyncs the underlying file. This is the only operation the fsync
// worker is permitted to invoke (spec.md §5) — it never appends.
func (lf *File) Commit() error {
	if err := lf.f.Sync(); err != nil {
		return fmt.Errorf("recordlog: fsync %s: %w", lf.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (lf *File) Close() error {
	return lf.f.Close()
}

// Reader replays records from the start of a log file, stopping cleanly at
// end-of-file or tolerating (with ErrTruncatedTail) a partial trailing
// frame.
type Reader struct {
	br *bufio.Reader
}

// NewReader opens path read-only and verifies the magic header.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recordlog: open %s for read: %w", path, err)
	}
	br := bufio.NewReader(f)
	line, err := br.ReadString('\n')
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("recordlog: read magic: %w", err)
	}
	if line != Magic+"\n" {
		f.Close()
		return nil, &SyntaxError{Err: fmt.Errorf("bad magic %q", line)}
	}
	return &Reader{br: br}, nil
}

// ReadNextRecord returns the next record, io.EOF at a clean end of file, or
// ErrTruncatedTail wrapping the underlying error when the final frame is
// incomplete.
func (r *Reader) ReadNextRecord() (Record, error) {
	var lenBuf [4]byte
	n, err := io.ReadFull(r.br, lenBuf[:])
	if err == io.EOF && n == 0 {
		return Record{}, io.EOF
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrTruncatedTail, err)
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r.br, body); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrTruncatedTail, err)
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, &SyntaxError{Err: err}
	}
	return rec, nil
}

// ReadAll replays every record in the file. A truncated trailing record is
// tolerated: it is dropped and ReadAll returns successfully with the
// records read so far, per spec.md §6.1.
func ReadAll(path string) ([]Record, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}

	var records []Record
	for {
		rec, err := r.ReadNextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

// Replacement stages a new log file (header + fresh snapshot + residual
// log) that atomically replaces an existing one once Commit is called —
// the durable counterpart to the snapshot engine's log-shift (spec.md §4.8).
type Replacement struct {
	finalPath string
	tmpPath   string
	staged    *File
}

// ReplaceStart begins a snapshot rewrite of the log at finalPath, writing a
// new header and snapshot record to a temporary sibling file.
func ReplaceStart(finalPath string, header, snapshot Record) (*Replacement, error) {
	tmpPath := finalPath + ".tmp"
	os.Remove(tmpPath)
	staged, err := Create(tmpPath, header, snapshot)
	if err != nil {
		return nil, err
	}
	return &Replacement{finalPath: finalPath, tmpPath: tmpPath, staged: staged}, nil
}

// Append appends a residual log record (one not covered by the new
// snapshot) to the staged replacement file.
func (rp *Replacement) Append(rec Record) error {
	return rp.staged.AppendRecord(rec)
}

// Commit fsyncs the staged file and atomically renames it over finalPath.
func (rp *Replacement) Commit() (*File, error) {
	if err := rp.staged.Commit(); err != nil {
		rp.staged.Close()
		return nil, err
	}
	if err := rp.staged.Close(); err != nil {
		return nil, fmt.Errorf("recordlog: close staged replacement: %w", err)
	}
	if err := os.Rename(rp.tmpPath, rp.finalPath); err != nil {
		return nil, fmt.Errorf("recordlog: rename replacement into place: %w", err)
	}
	return Open(rp.finalPath)
}

// Abort discards the staged replacement file.
func (rp *Replacement) Abort() error {
	rp.staged.Close()
	return os.Remove(rp.tmpPath)
}
