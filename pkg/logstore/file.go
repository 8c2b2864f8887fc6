package logstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shrtyk/rsm-core/api"
	"github.com/shrtyk/rsm-core/internal/cbreaker"
)

// entryHeaderSize is the on-disk framing overhead per record:
// length(4) + crc32(4), matching the teacher's WAL entry framing.
const entryHeaderSize = 8

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// File is a durable, CRC32-framed api.LogClient backed by one
// append-only file per log, grounded on the teacher's WAL storage
// framing (length-prefixed, CRC32-Castagnoli-checked records with
// atomic batched fsync) but generalized from a single replicated log
// to many independently addressed logs, each with its own read
// streams, gaps, and trim point.
type File struct {
	dir string

	mem *Memory // streaming/backpressure machinery is shared with Memory

	mu      sync.Mutex
	files   map[string]*os.File
	breaker *cbreaker.CircuitBreaker // trips on repeated write/fsync failure
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", dir, err)
	}
	f := &File{
		dir:     dir,
		mem:     NewMemory(),
		files:   make(map[string]*os.File),
		breaker: cbreaker.NewCircuitBreaker(5, 2, 5*time.Second),
	}
	return f, nil
}

func (f *File) pathFor(logID string) string {
	return filepath.Join(f.dir, logID+".log")
}

func (f *File) trimPathFor(logID string) string {
	return filepath.Join(f.dir, logID+".trim")
}

func (f *File) fileFor(logID string) (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fh, ok := f.files[logID]; ok {
		return fh, nil
	}
	fh, err := os.OpenFile(f.pathFor(logID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", f.pathFor(logID), err)
	}
	if err := f.replay(logID, fh); err != nil {
		fh.Close()
		return nil, err
	}
	// Trim points live in a sidecar file, separate from the append-only
	// log: replaying past-trim records above only to discard them again
	// here keeps the WAL entry framing untouched by trim at all.
	trimUpto, err := f.readTrimMarker(logID)
	if err != nil {
		fh.Close()
		return nil, err
	}
	if trimUpto != api.LSNInvalid {
		_ = f.mem.Trim(context.Background(), logID, trimUpto)
	}
	f.files[logID] = fh
	return fh, nil
}

func (f *File) readTrimMarker(logID string) (api.LSN, error) {
	data, err := os.ReadFile(f.trimPathFor(logID))
	if errors.Is(err, os.ErrNotExist) {
		return api.LSNInvalid, nil
	}
	if err != nil {
		return api.LSNInvalid, fmt.Errorf("read trim marker: %w", err)
	}
	if len(data) < 8 {
		return api.LSNInvalid, nil
	}
	return api.LSN(binary.LittleEndian.Uint64(data)), nil
}

func (f *File) writeTrimMarker(logID string, uptoLSN api.LSN) error {
	existing, err := f.readTrimMarker(logID)
	if err != nil {
		return err
	}
	if uptoLSN <= existing {
		return nil
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(uptoLSN))
	return os.WriteFile(f.trimPathFor(logID), buf, 0o644)
}

// replay scans an existing log file and reconstructs its in-memory
// record list so read streams opened after a restart see history that
// predates this process.
func (f *File) replay(logID string, fh *os.File) error {
	if _, err := fh.Seek(0, 0); err != nil {
		return err
	}
	l := f.mem.logFor(logID)
	header := make([]byte, entryHeaderSize)
	for {
		if _, err := readFull(fh, header); err != nil {
			break
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		wantCRC := binary.LittleEndian.Uint32(header[4:8])
		body := make([]byte, length)
		if _, err := readFull(fh, body); err != nil {
			break
		}
		if crc32.Checksum(body, crcTable) != wantCRC {
			break
		}
		l.mu.Lock()
		lsn := l.nextLSN
		l.nextLSN++
		l.records = append(l.records, record{lsn: lsn, payload: body})
		l.mu.Unlock()
	}
	if _, err := fh.Seek(0, 2); err != nil {
		return err
	}
	return nil
}

func readFull(fh *os.File, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := fh.Read(buf[n:])
		if m > 0 {
			n += m
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func encodeFileEntry(payload []byte) []byte {
	buf := make([]byte, entryHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.Checksum(payload, crcTable))
	copy(buf[entryHeaderSize:], payload)
	return buf
}

func (f *File) Append(ctx context.Context, logID string, payload []byte, bypassWriteToken bool) (api.LSN, error) {
	fh, err := f.fileFor(logID)
	if err != nil {
		return api.LSNInvalid, err
	}
	return cbreaker.Do(ctx, f.breaker, func(ctx context.Context) (api.LSN, error) {
		lsn, err := f.mem.Append(ctx, logID, payload, bypassWriteToken)
		if err != nil {
			return api.LSNInvalid, err
		}
		if _, err := fh.Write(encodeFileEntry(payload)); err != nil {
			return api.LSNInvalid, fmt.Errorf("write entry: %w", err)
		}
		if err := fh.Sync(); err != nil {
			return api.LSNInvalid, fmt.Errorf("sync: %w", err)
		}
		return lsn, nil
	})
}

func (f *File) OpenReadStream(
	ctx context.Context,
	logID string,
	startLSN, untilLSN api.LSN,
	onRecord func(api.DeltaRecord) bool,
	onGap func(api.Gap) bool,
	onHealth func(bool),
) (string, error) {
	if _, err := f.fileFor(logID); err != nil {
		return "", err
	}
	return f.mem.OpenReadStream(ctx, logID, startLSN, untilLSN, onRecord, onGap, onHealth)
}

func (f *File) Resume(ctx context.Context, streamID string) error {
	return f.mem.Resume(ctx, streamID)
}

func (f *File) CloseReadStream(ctx context.Context, streamID string) error {
	return f.mem.CloseReadStream(ctx, streamID)
}

func (f *File) QueryTailLSN(ctx context.Context, logID string) (api.LSN, error) {
	if _, err := f.fileFor(logID); err != nil {
		return api.LSNInvalid, err
	}
	return f.mem.QueryTailLSN(ctx, logID)
}

// Trim persists the trim point to a sidecar file so it survives a
// restart, then advances the in-memory trim point the same way Memory
// does. The on-disk log file itself is left append-only: nothing in
// this package truncates or compacts it, matching the teacher's own
// versions-directory approach of never truncating in place.
func (f *File) Trim(ctx context.Context, logID string, uptoLSN api.LSN) error {
	if _, err := f.fileFor(logID); err != nil {
		return err
	}
	if err := f.writeTrimMarker(logID, uptoLSN); err != nil {
		return fmt.Errorf("persist trim marker: %w", err)
	}
	return f.mem.Trim(ctx, logID, uptoLSN)
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for _, fh := range f.files {
		if err := fh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
