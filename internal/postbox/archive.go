package postbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/archcore/arch/internal/envelope"
)

// ArchiveBucket enumerates the closed set of archive subdirectories spec.md
// §4.4/§6.2 requires the router to sort consumed messages into.
type ArchiveBucket string

const (
	BucketArchive ArchiveBucket = "archive"
	BucketInvalid ArchiveBucket = "invalid"
	BucketExpired ArchiveBucket = "expired"
	BucketDead    ArchiveBucket = "dead"
)

// Archive is the timestamp-keyed store for consumed envelopes, rooted
// alongside the per-agent postbox directories.
type Archive struct {
	root string
}

// NewArchive returns an Archive rooted at dir, creating each bucket
// subdirectory.
func NewArchive(dir string) (*Archive, error) {
	a := &Archive{root: dir}
	for _, bucket := range []ArchiveBucket{BucketArchive, BucketInvalid, BucketExpired, BucketDead} {
		if err := os.MkdirAll(filepath.Join(dir, string(bucket)), 0o755); err != nil {
			return nil, fmt.Errorf("create archive bucket %s: %w", bucket, err)
		}
	}
	return a, nil
}

// Put writes e into bucket as {unix_nano}_{uuid}.json. The uuid is freshly
// generated on every call; the file name does not carry any identifier taken
// from the message itself.
func (a *Archive) Put(bucket ArchiveBucket, e *envelope.Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope for archive: %w", err)
	}
	name := fmt.Sprintf("%d_%s.json", time.Now().UnixNano(), uuid.New().String())
	path := filepath.Join(a.root, string(bucket), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write archive entry %s: %w", path, err)
	}
	return nil
}
