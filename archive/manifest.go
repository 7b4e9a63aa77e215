package archive

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/rowstore/blobstore"
)

const (
	// CurrentFileName holds the name of the latest manifest.
	CurrentFileName = "CURRENT"
	// ManifestPrefix starts every manifest name.
	ManifestPrefix = "MANIFEST-"

	// ManifestVersion is the manifest format version.
	ManifestVersion = 1
)

// Manifest describes one checkpoint of a rank.
type Manifest struct {
	Version   int         `json:"version"`
	ID        uint64      `json:"id"`
	Codec     string      `json:"codec"`
	CreatedAt time.Time   `json:"created_at"`
	Rank      int         `json:"rank"`
	Ranks     int         `json:"ranks"`
	Tables    []TableInfo `json:"tables"`
}

// Table returns the entry of the table named name.
func (m *Manifest) Table(name string) (TableInfo, bool) {
	for _, t := range m.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableInfo{}, false
}

// TableInfo describes one rows file.
type TableInfo struct {
	Name        string   `json:"name"`
	Layout      string   `json:"layout"`
	Fingerprint uint64   `json:"fingerprint"`
	RowSize     int      `json:"row_size"`
	Rows        int      `json:"rows"`
	Columns     []string `json:"columns"`
	Path        string   `json:"path"`
	Size        int64    `json:"size"`
	Compression string   `json:"compression"`
}

func manifestName(id uint64) string {
	return fmt.Sprintf("%s%06d.json", ManifestPrefix, id)
}

func parseManifestName(name string) (uint64, bool) {
	s, ok := strings.CutPrefix(name, ManifestPrefix)
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, ".json")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	return id, err == nil
}

// Catalog records which checkpoint versions were committed.
// s3.Catalog implements it on DynamoDB.
type Catalog interface {
	// Latest returns the newest version and its manifest name, or
	// blobstore.ErrNotFound.
	Latest(ctx context.Context) (uint64, string, error)
	// CommitVersion records manifest as version. It fails when version was
	// already committed.
	CommitVersion(ctx context.Context, version uint64, manifest string) error
}

// blobCatalog keeps a CURRENT pointer in the checkpoint store.
type blobCatalog struct {
	store blobstore.Store
	mu    sync.Mutex
}

func newBlobCatalog(store blobstore.Store) *blobCatalog {
	return &blobCatalog{store: store}
}

func (c *blobCatalog) Latest(ctx context.Context) (uint64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest(ctx)
}

func (c *blobCatalog) latest(ctx context.Context) (uint64, string, error) {
	b, err := c.store.Open(ctx, CurrentFileName)
	if err != nil {
		return 0, "", err
	}
	defer b.Close()
	content, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return 0, "", err
	}
	name := strings.TrimSpace(string(content))
	id, ok := parseManifestName(name)
	if !ok {
		return 0, "", fmt.Errorf("%w: CURRENT points to %q", ErrCorrupt, name)
	}
	return id, name, nil
}

func (c *blobCatalog) CommitVersion(ctx context.Context, version uint64, manifest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest, _, err := c.latest(ctx)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}
	if version <= latest {
		return fmt.Errorf("%w: version %d, latest is %d", ErrConcurrentModification, version, latest)
	}
	return c.store.Put(ctx, CurrentFileName, []byte(manifest))
}
