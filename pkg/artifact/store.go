// Package artifact implements the atomic artifact store. Artifacts are
// content-hashed files finalized by rename-into-place; partial files never
// appear under a final name. All per-item operations run under the item's
// advisory lock.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/validation"
)

// Kind identifies what an artifact is.
type Kind string

// Artifact kinds.
const (
	KindScript         Kind = "script"
	KindNarration      Kind = "narration"
	KindStockClip      Kind = "stock_clip"
	KindAssembledVideo Kind = "assembled_video"
	KindCaptionedVideo Kind = "captioned_video"
	KindMetadataJSON   Kind = "metadata_json"
)

// AllKinds lists every artifact kind in pipeline order.
var AllKinds = []Kind{
	KindScript, KindNarration, KindStockClip,
	KindAssembledVideo, KindCaptionedVideo, KindMetadataJSON,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Artifact describes one finalized file.
type Artifact struct {
	ItemID    string    `json:"item_id"`
	Kind      Kind      `json:"kind"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	Stage     string    `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
}

// Final names are <unix-ts>-<hash8>.<ext>. Temp names carry a ".tmp-" nonce
// and never match.
var finalNameRe = regexp.MustCompile(`^(\d+)-([0-9a-f]{8})\.([A-Za-z0-9]{1,8})$`)

// Store is the artifact store rooted at a single directory.
type Store struct {
	root  string
	locks *ItemLocks
}

// NewStore creates the store, its root, and per-kind directories.
func NewStore(root string, locks *ItemLocks) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errkind.Newf(errkind.Resource, "resolving artifact root: %v", err)
	}
	for _, kind := range AllKinds {
		if err := os.MkdirAll(filepath.Join(abs, string(kind)), 0o755); err != nil {
			return nil, errkind.Newf(errkind.Resource, "creating artifact dir: %v", err)
		}
	}
	return &Store{root: abs, locks: locks}, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

// Locks exposes the per-item lock table shared with the state machine.
func (s *Store) Locks() *ItemLocks { return s.locks }

func (s *Store) itemDir(kind Kind, itemID string) string {
	return filepath.Join(s.root, string(kind), itemID)
}

// Pending is a scoped acquisition of a destination slot. Exactly one of
// Finalize or Abort must be called on every exit path; Abort after Finalize
// is a no-op.
type Pending struct {
	store  *Store
	itemID string
	kind   Kind
	ext    string
	f      *os.File
	hasher hash.Hash
	size   int64
	done   bool
}

// Begin opens a temp file in the same directory as the final destination
// (same filesystem, so the final rename is atomic).
func (s *Store) Begin(itemID string, kind Kind, ext string) (*Pending, error) {
	if err := validation.CheckIdentifier("item_id", itemID); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, errkind.Newf(errkind.Validation, "unknown artifact kind %q", kind)
	}
	ext = strings.TrimPrefix(ext, ".")
	dir := s.itemDir(kind, itemID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.Newf(errkind.Resource, "creating %s: %v", dir, err)
	}
	name := fmt.Sprintf(".tmp-%s.%s", uuid.NewString(), ext)
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errkind.Newf(errkind.Resource, "creating temp file: %v", err)
	}
	return &Pending{
		store:  s,
		itemID: itemID,
		kind:   kind,
		ext:    ext,
		f:      f,
		hasher: sha256.New(),
	}, nil
}

// Write appends content, hashing as it goes.
func (p *Pending) Write(b []byte) (int, error) {
	n, err := p.f.Write(b)
	p.hasher.Write(b[:n])
	p.size += int64(n)
	if err != nil {
		return n, errkind.Newf(errkind.Resource, "writing artifact: %v", err)
	}
	return n, nil
}

// ReadFrom streams r into the pending file.
func (p *Pending) ReadFrom(r io.Reader) (int64, error) {
	n, err := io.Copy(io.MultiWriter(p.f, p.hasher), r)
	p.size += n
	if err != nil {
		return n, errkind.Newf(errkind.Resource, "writing artifact: %v", err)
	}
	return n, nil
}

// Abort discards the temp file. Safe to defer unconditionally.
func (p *Pending) Abort() {
	if p.done {
		return
	}
	p.done = true
	name := p.f.Name()
	_ = p.f.Close()
	_ = os.Remove(name)
}

// Finalize fsyncs, renames into place under the item lock, and returns the
// artifact record. If a file with the same content hash already exists the
// temp is discarded and the existing artifact is returned, which makes
// re-runs idempotent.
func (p *Pending) Finalize(ctx context.Context, stage string) (Artifact, error) {
	if p.done {
		return Artifact{}, errkind.Newf(errkind.Unexpected, "finalize on closed pending artifact")
	}
	if p.size == 0 {
		p.Abort()
		return Artifact{}, errkind.Newf(errkind.Validation, "refusing to finalize empty %s artifact", p.kind)
	}
	if err := p.f.Sync(); err != nil {
		p.Abort()
		return Artifact{}, errkind.Newf(errkind.Resource, "fsync: %v", err)
	}
	tmpName := p.f.Name()
	if err := p.f.Close(); err != nil {
		p.done = true
		_ = os.Remove(tmpName)
		return Artifact{}, errkind.Newf(errkind.Resource, "closing temp file: %v", err)
	}
	p.done = true

	sum := hex.EncodeToString(p.hasher.Sum(nil))
	now := time.Now()
	final := filepath.Join(p.store.itemDir(p.kind, p.itemID),
		fmt.Sprintf("%d-%s.%s", now.Unix(), sum[:8], p.ext))

	var out Artifact
	err := p.store.locks.With(ctx, p.itemID, func() error {
		// Same content already finalized by an earlier run: keep the winner.
		if existing, ok := p.store.findByHashLocked(p.itemID, p.kind, sum); ok {
			_ = os.Remove(tmpName)
			out = existing
			return nil
		}
		if err := os.Rename(tmpName, final); err != nil {
			_ = os.Remove(tmpName)
			return errkind.Newf(errkind.Resource, "finalizing artifact: %v", err)
		}
		out = Artifact{
			ItemID:    p.itemID,
			Kind:      p.kind,
			Path:      final,
			Size:      p.size,
			SHA256:    sum,
			Stage:     stage,
			CreatedAt: now,
		}
		return nil
	})
	if err != nil {
		return Artifact{}, err
	}
	return out, nil
}

// findByHashLocked scans the item/kind directory for a final file whose
// name carries the hash prefix and whose full hash matches. Caller holds
// the item lock.
func (s *Store) findByHashLocked(itemID string, kind Kind, sum string) (Artifact, bool) {
	entries, err := os.ReadDir(s.itemDir(kind, itemID))
	if err != nil {
		return Artifact{}, false
	}
	for _, e := range entries {
		m := finalNameRe.FindStringSubmatch(e.Name())
		if m == nil || m[2] != sum[:8] {
			continue
		}
		path := filepath.Join(s.itemDir(kind, itemID), e.Name())
		full, size, err := hashFile(path)
		if err != nil || full != sum {
			continue
		}
		info, _ := e.Info()
		created := time.Now()
		if info != nil {
			created = info.ModTime()
		}
		return Artifact{
			ItemID: itemID, Kind: kind, Path: path,
			Size: size, SHA256: full, CreatedAt: created,
		}, true
	}
	return Artifact{}, false
}

// List enumerates finalized artifacts of a kind for an item, oldest first.
// The scan holds the item lock so it cannot race a finalization.
func (s *Store) List(ctx context.Context, itemID string, kind Kind) ([]Artifact, error) {
	var out []Artifact
	err := s.locks.With(ctx, itemID, func() error {
		entries, err := os.ReadDir(s.itemDir(kind, itemID))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errkind.Newf(errkind.Resource, "scanning artifacts: %v", err)
		}
		for _, e := range entries {
			if e.IsDir() || finalNameRe.FindStringSubmatch(e.Name()) == nil {
				continue
			}
			path := filepath.Join(s.itemDir(kind, itemID), e.Name())
			sum, size, err := hashFile(path)
			if err != nil {
				continue
			}
			info, _ := e.Info()
			created := time.Now()
			if info != nil {
				created = info.ModTime()
			}
			out = append(out, Artifact{
				ItemID: itemID, Kind: kind, Path: path,
				Size: size, SHA256: sum, CreatedAt: created,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verify confirms the artifact exists on disk with the recorded size and
// hash. References that fail verification must be treated as absent.
func (s *Store) Verify(a Artifact) error {
	if _, err := validation.SafePathUnder(s.root, a.Path); err != nil {
		return err
	}
	sum, size, err := hashFile(a.Path)
	if err != nil {
		return errkind.Newf(errkind.Resource, "reading artifact %s: %v", a.Path, err)
	}
	if size != a.Size {
		return errkind.Newf(errkind.Validation, "artifact %s size mismatch: recorded %d, on disk %d", a.Path, a.Size, size)
	}
	if sum != a.SHA256 {
		return errkind.Newf(errkind.Validation, "artifact %s hash mismatch", a.Path)
	}
	return nil
}

// RemoveItem deletes every artifact directory for the item under its lock.
func (s *Store) RemoveItem(ctx context.Context, itemID string) error {
	if err := validation.CheckIdentifier("item_id", itemID); err != nil {
		return err
	}
	return s.locks.With(ctx, itemID, func() error {
		for _, kind := range AllKinds {
			if err := os.RemoveAll(s.itemDir(kind, itemID)); err != nil {
				return errkind.Newf(errkind.Resource, "removing %s artifacts: %v", kind, err)
			}
		}
		return nil
	})
}

// RemoveKind deletes the item's artifacts of one kind under the lock. Used
// when a superseding artifact replaces an older generation.
func (s *Store) RemoveKind(ctx context.Context, itemID string, kind Kind, keep string) error {
	return s.locks.With(ctx, itemID, func() error {
		entries, err := os.ReadDir(s.itemDir(kind, itemID))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errkind.Newf(errkind.Resource, "scanning artifacts: %v", err)
		}
		for _, e := range entries {
			path := filepath.Join(s.itemDir(kind, itemID), e.Name())
			if path == keep {
				continue
			}
			if err := os.Remove(path); err != nil {
				return errkind.Newf(errkind.Resource, "removing superseded artifact: %v", err)
			}
		}
		return nil
	})
}

// TempFileCount counts leftover temp files across the store. Used by tests
// and the gc command to verify clean shutdown.
func (s *Store) TempFileCount() int {
	count := 0
	_ = filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), ".tmp-") {
			count++
		}
		return nil
	})
	return count
}

func hashFile(path string) (sum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
