package snapshot

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/willibrandon/ChronoState/pkg/recorder"
	"github.com/willibrandon/ChronoState/pkg/stream"
)

const (
	fileExt     = ".snap"
	fileVersion = 1
	maxPayload  = 1 << 30

	optMAC       uint8 = 1 << 0
	optEncrypted uint8 = 1 << 1
)

var fileMagic = [4]byte{'C', 'S', 'N', 'P'}

type fileHeader struct {
	Magic    [4]byte
	Version  uint8
	Options  uint8
	Flags    uint8
	Step     uint64
	Created  int64
	Checksum [32]byte
	Length   uint32
}

var headerSize = binary.Size(fileHeader{})

// FileOptions configures a FileStore.
type FileOptions struct {
	// IntegrityKey signs every file with HMAC-SHA256. When set, unsigned or
	// tampered files fail with ErrIntegrity.
	IntegrityKey []byte

	// EncryptionKey seals the state with AES-GCM. Must be 16, 24, or 32 bytes.
	EncryptionKey []byte
}

// FileStore keeps one file per step under a directory per session.
type FileStore struct {
	dir  string
	opts FileOptions
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string, opts FileOptions) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("snapshot: store directory is required")
	}
	if len(opts.EncryptionKey) > 0 {
		if err := checkKey(opts.EncryptionKey); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: create store directory: %w", err)
	}
	return &FileStore{dir: dir, opts: opts}, nil
}

// Dir returns the root directory.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) stepPath(session string, step uint64) string {
	return filepath.Join(f.dir, session, fmt.Sprintf("%020d%s", step, fileExt))
}

// Put implements Store.
func (f *FileStore) Put(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateSession(snap.Session); err != nil {
		return err
	}
	sum, err := hex.DecodeString(snap.Checksum)
	if err != nil || len(sum) != 32 {
		return fmt.Errorf("snapshot: malformed checksum %q", snap.Checksum)
	}

	h := fileHeader{
		Magic:   fileMagic,
		Version: fileVersion,
		Flags:   uint8(snap.Flags),
		Step:    snap.Step,
		Created: snap.CreatedAt.UnixNano(),
	}
	copy(h.Checksum[:], sum)

	payload := snap.Data
	if len(f.opts.EncryptionKey) > 0 {
		payload, err = encrypt(snap.Data, f.opts.EncryptionKey)
		if err != nil {
			return fmt.Errorf("snapshot: encrypt: %w", err)
		}
		h.Options |= optEncrypted
	}
	if len(f.opts.IntegrityKey) > 0 {
		h.Options |= optMAC
	}
	h.Length = uint32(len(payload))

	head, err := binary.Append(nil, binary.LittleEndian, h)
	if err != nil {
		return fmt.Errorf("snapshot: encode header: %w", err)
	}

	final := f.stepPath(snap.Session, snap.Step)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return fmt.Errorf("snapshot: create session directory: %w", err)
	}
	tmp := final + ".tmp"
	sink, err := stream.CreateFile(tmp)
	if err != nil {
		return err
	}
	parts := [][]byte{head, payload}
	if h.Options&optMAC != 0 {
		parts = append(parts, computeMAC(f.opts.IntegrityKey, head, payload))
	}
	for _, p := range parts {
		if err := sink.WriteBytes(p); err != nil {
			sink.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := sink.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, final)
}

// Get implements Store.
func (f *FileStore) Get(ctx context.Context, session string, step uint64) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if err := validateSession(session); err != nil {
		return Snapshot{}, err
	}
	path := f.stepPath(session, step)
	src, err := stream.OpenFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	defer src.Close()

	head := make([]byte, headerSize)
	if err := src.ReadBytes(head); err != nil {
		return Snapshot{}, truncated(path, err)
	}
	var h fileHeader
	if _, err := binary.Decode(head, binary.LittleEndian, &h); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrIntegrity, path, err)
	}
	if h.Magic != fileMagic || h.Version != fileVersion {
		return Snapshot{}, fmt.Errorf("%w: %s is not a snapshot file", ErrIntegrity, path)
	}
	if h.Length > maxPayload {
		return Snapshot{}, fmt.Errorf("%w: %s declares %d bytes", ErrIntegrity, path, h.Length)
	}

	payload := make([]byte, h.Length)
	if err := src.ReadBytes(payload); err != nil {
		return Snapshot{}, truncated(path, err)
	}

	switch {
	case h.Options&optMAC != 0:
		if len(f.opts.IntegrityKey) == 0 {
			return Snapshot{}, fmt.Errorf("snapshot: %s is signed but no integrity key is configured", path)
		}
		mac := make([]byte, macSize)
		if err := src.ReadBytes(mac); err != nil {
			return Snapshot{}, truncated(path, err)
		}
		if !verifyMAC(f.opts.IntegrityKey, mac, head, payload) {
			return Snapshot{}, fmt.Errorf("%w: %s: HMAC mismatch, data may have been tampered with", ErrIntegrity, path)
		}
	case len(f.opts.IntegrityKey) > 0:
		return Snapshot{}, fmt.Errorf("%w: %s is not signed", ErrIntegrity, path)
	}

	data := payload
	if h.Options&optEncrypted != 0 {
		if len(f.opts.EncryptionKey) == 0 {
			return Snapshot{}, fmt.Errorf("snapshot: %s is encrypted but no encryption key is configured", path)
		}
		data, err = decrypt(payload, f.opts.EncryptionKey)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrIntegrity, path, err)
		}
	}

	snap := Snapshot{
		Session:   session,
		Step:      h.Step,
		Flags:     recorder.StateFlags(h.Flags),
		Data:      data,
		Checksum:  hex.EncodeToString(h.Checksum[:]),
		CreatedAt: time.Unix(0, h.Created).UTC(),
	}
	if err := snap.Verify(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func truncated(path string, err error) error {
	if errors.Is(err, stream.ErrEndOfStream) {
		return fmt.Errorf("%w: %s is truncated", ErrIntegrity, path)
	}
	return err
}

// Steps implements Store.
func (f *FileStore) Steps(ctx context.Context, session string) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateSession(session); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(f.dir, session))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("snapshot: list steps: %w", err)
	}
	var steps []uint64
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if !ok || e.IsDir() {
			continue
		}
		step, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}
	slices.Sort(steps)
	return steps, nil
}

// Sessions implements Store.
func (f *FileStore) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list sessions: %w", err)
	}
	sessions := []string{}
	for _, e := range entries {
		if e.IsDir() {
			sessions = append(sessions, e.Name())
		}
	}
	return sessions, nil
}

// Delete implements Store by removing the session's directory.
func (f *FileStore) Delete(ctx context.Context, session string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateSession(session); err != nil {
		return err
	}
	dir := filepath.Join(f.dir, session)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return os.RemoveAll(dir)
}

// Close implements Store. Files need no cleanup, so it does nothing.
func (f *FileStore) Close() error {
	return nil
}
