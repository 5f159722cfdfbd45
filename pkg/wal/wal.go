// Package wal implements the append-only write-ahead log described in
// spec §4.3: a sequence of length+CRC32 framed records that is replayed at
// open to bring the unified index and secondary indices to a state
// functionally equal to one that received the operations directly.
//
// Framing per record: [4-byte little-endian length][4-byte CRC32][body].
// A truncated tail (a length/CRC/body that runs past EOF, or whose CRC
// does not match) is dropped silently rather than treated as corruption —
// it is the expected shape of a crash mid-append.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const frameHeaderSize = 8 // 4-byte length + 4-byte crc32

// WAL is an append-only log backed by a single os.File opened in append
// mode. Writers append one frame at a time under the caller's lock (the
// Mind's writer-lock in practice); WAL itself does no internal locking
// beyond what's needed to keep a single append atomic at the OS level.
type WAL struct {
	path string
	f    *os.File
}

// Open opens (creating if absent) the WAL file at path for appending.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &WAL{path: path, f: f}, nil
}

// Append writes one record as a framed entry and fsyncs before returning,
// satisfying the "no partial writes visible to the caller" contract in
// spec §7: once Append returns nil, the record has taken effect durably.
func (w *WAL) Append(rec Record) error {
	body, err := Encode(rec)
	if err != nil {
		return err
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(body))
	copy(frame[frameHeaderSize:], body)

	if _, err := w.f.Write(frame); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	return w.f.Sync()
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	return w.f.Close()
}

// Path returns the WAL's backing file path.
func (w *WAL) Path() string { return w.path }

// Replay reads every well-formed record from the start of the log and
// invokes apply for each, in order. It stops at the first frame that is
// truncated or fails its CRC check — that frame and everything after it
// is the torn tail of an interrupted append and is dropped silently.
func Replay(path string, apply func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("wal: replay open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		header := make([]byte, frameHeaderSize)
		if _, err := io.ReadFull(r, header); err != nil {
			return nil // EOF or short read: clean end or torn tail, either way done
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		wantCRC := binary.LittleEndian.Uint32(header[4:8])

		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil // torn tail: body shorter than declared length
		}
		if crc32.ChecksumIEEE(body) != wantCRC {
			return nil // torn tail: body present but checksum mismatch
		}

		rec, err := Decode(body)
		if err != nil {
			return nil // malformed body counts as a torn tail, not corruption
		}
		if err := apply(rec); err != nil {
			return fmt.Errorf("wal: apply %s record: %w", rec.Kind, err)
		}
	}
}

// Rotate closes the current log, compresses it with zstd into
// <base>.<seq>.zst (base being the log's file name) in the log's
// directory for archival, and starts a fresh empty log at
// the original path. Called after a successful unified-index checkpoint,
// per spec §4.3 ("the WAL may be rotated and compacted after a successful
// checkpoint").
func (w *WAL) Rotate(seq uint64) (archivePath string, err error) {
	if err := w.f.Close(); err != nil {
		return "", fmt.Errorf("wal: rotate close: %w", err)
	}

	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	archivePath = filepath.Join(dir, fmt.Sprintf("%s.%d.zst", base, seq))

	if err := compressFile(w.path, archivePath); err != nil {
		return "", err
	}
	if err := os.Truncate(w.path, 0); err != nil {
		return "", fmt.Errorf("wal: rotate truncate: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("wal: rotate reopen: %w", err)
	}
	w.f = f
	return archivePath, nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("wal: compress open: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("wal: compress create: %w", err)
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("wal: compress: %w", err)
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close() //nolint:errcheck
		return fmt.Errorf("wal: compress copy: %w", err)
	}
	return enc.Close()
}
