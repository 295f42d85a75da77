package snapshot

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/willibrandon/ChronoState/pkg/recorder"
)

type storeFactory struct {
	name string
	new  func(t *testing.T) (Store, func())
}

func TestStoreContract(t *testing.T) {
	factories := []storeFactory{
		{
			name: "memory",
			new: func(t *testing.T) (Store, func()) {
				s := NewMemoryStore()
				return s, func() { _ = s.Close() }
			},
		},
		{
			name: "file",
			new: func(t *testing.T) (Store, func()) {
				t.Helper()
				s, err := NewFileStore(t.TempDir(), FileOptions{})
				if err != nil {
					t.Fatalf("NewFileStore() error = %v", err)
				}
				return s, func() { _ = s.Close() }
			},
		},
		{
			name: "file-sealed",
			new: func(t *testing.T) (Store, func()) {
				t.Helper()
				s, err := NewFileStore(t.TempDir(), FileOptions{
					IntegrityKey:  []byte("integrity-key"),
					EncryptionKey: []byte("0123456789abcdef"),
				})
				if err != nil {
					t.Fatalf("NewFileStore() error = %v", err)
				}
				return s, func() { _ = s.Close() }
			},
		},
		{
			name: "sqlite",
			new: func(t *testing.T) (Store, func()) {
				t.Helper()
				s, err := OpenSQLite(filepath.Join(t.TempDir(), "snapshots.db"))
				if err != nil {
					t.Fatalf("OpenSQLite() error = %v", err)
				}
				return s, func() { _ = s.Close() }
			},
		},
		{
			name: "redis",
			new: func(t *testing.T) (Store, func()) {
				t.Helper()
				return newRedisStoreForTest(t)
			},
		},
	}

	for _, f := range factories {
		t.Run(f.name, func(t *testing.T) {
			store, cleanup := f.new(t)
			defer cleanup()

			contractRoundTrip(t, store)
			contractOverwrite(t, store)
			contractListing(t, store)
			contractNotFound(t, store)
			contractDelete(t, store)
		})
	}
}

func contractRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	want := New("round-trip", 7, recorder.StateAll, []byte{0, 1, 2, 3, 0xff})

	if err := s.Put(ctx, want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := s.Get(ctx, "round-trip", 7)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Session != want.Session || got.Step != want.Step || got.Flags != want.Flags {
		t.Errorf("Get() = %v, want %v", got, want)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Errorf("Data = %x, want %x", got.Data, want.Data)
	}
	if got.Checksum != want.Checksum {
		t.Errorf("Checksum = %s, want %s", got.Checksum, want.Checksum)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func contractOverwrite(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.Put(ctx, New("overwrite", 1, recorder.StateBodies, []byte("first"))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, New("overwrite", 1, recorder.StateBodies, []byte("second"))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := s.Get(ctx, "overwrite", 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != "second" {
		t.Errorf("Data = %q, want second", got.Data)
	}
}

func contractListing(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	for _, step := range []uint64{12, 3, 100, 4} {
		if err := s.Put(ctx, New("listing", step, recorder.StateAll, []byte{byte(step)})); err != nil {
			t.Fatalf("Put(step %d) error = %v", step, err)
		}
	}
	steps, err := s.Steps(ctx, "listing")
	if err != nil {
		t.Fatalf("Steps() error = %v", err)
	}
	if !reflect.DeepEqual(steps, []uint64{3, 4, 12, 100}) {
		t.Errorf("Steps() = %v, want ascending order", steps)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	for _, want := range []string{"listing", "overwrite", "round-trip"} {
		found := false
		for _, got := range sessions {
			found = found || got == want
		}
		if !found {
			t.Errorf("Sessions() = %v, missing %q", sessions, want)
		}
	}
}

func contractNotFound(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Get(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "listing", 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing step) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Steps(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Steps(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, New("", 1, recorder.StateAll, nil)); err == nil {
		t.Error("Put() with empty session should fail")
	}
}

func contractDelete(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.Delete(ctx, "listing"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Steps(ctx, "listing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Steps() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "listing", 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "listing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}
