package vault

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/memoryd/memoryd/internal/store"
)

// canvasHashesMetaKey is the _meta row that mirrors every entity's last-written note hash.
const canvasHashesMetaKey = "canvas_hashes"

// lastSyncFileName sits inside dir/_meta alongside the vault, for the external canvas
// tool to read the same hash map without touching the database. YAML rather than JSON
// since this file sits next to the hand-editable notes it describes.
const lastSyncFileName = "last-sync.yaml"

// unsafeFileChars matches each run of characters that isn't safe in a filename (filenameFor
// replaces every run with "-"), the same
// directory-traversal guard applied to names generated here rather than paths a caller
// hands us.
var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// MarkdownAdapter is the write-through Vault implementation: each live entity is
// rendered to its own Markdown note under dir, and a parallel hash is kept in the
// database's _meta table (and mirrored to dir/_meta/last-sync.yaml) so a later Sync can
// tell a note it wrote from a note a person has since hand-edited.
type MarkdownAdapter struct {
	st  *store.Store
	dir string
	log *slog.Logger
}

// NewMarkdownAdapter returns an Adapter rooted at dir, creating dir and dir/_meta if
// they do not already exist.
func NewMarkdownAdapter(st *store.Store, dir string, log *slog.Logger) (*MarkdownAdapter, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, "_meta"), 0o755); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}
	return &MarkdownAdapter{st: st, dir: dir, log: log}, nil
}

type vaultEntity struct {
	id            int64
	name          string
	canonicalName string
	entityType    string
	importance    float64
	metadata      map[string]any
	lastContactAt string
	contactTrend  string
	attentionTier string
	updatedAt     string
}

func (a *MarkdownAdapter) liveEntities(ctx context.Context) ([]vaultEntity, error) {
	rows, err := a.st.DB().QueryContext(ctx, `
		SELECT id, name, canonical_name, type, importance, metadata,
		       COALESCE(last_contact_at, ''), contact_trend, attention_tier, updated_at
		FROM entities
		WHERE deleted_at IS NULL
		ORDER BY canonical_name`)
	if err != nil {
		return nil, fmt.Errorf("query live entities: %w", err)
	}
	defer rows.Close()

	var out []vaultEntity
	for rows.Next() {
		var e vaultEntity
		var metaJSON string
		if err := rows.Scan(&e.id, &e.name, &e.canonicalName, &e.entityType, &e.importance,
			&metaJSON, &e.lastContactAt, &e.contactTrend, &e.attentionTier, &e.updatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.metadata = store.UnmarshalJSON(metaJSON)
		out = append(out, e)
	}
	return out, rows.Err()
}

// filenameFor produces a stable, filesystem-safe note name for an entity's canonical name.
func filenameFor(canonicalName string) string {
	cleaned := unsafeFileChars.ReplaceAllString(canonicalName, "-")
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		cleaned = "entity"
	}
	return cleaned + ".md"
}

// render produces the note body. The H2/H3 layout keeps each field on its own heading so
// a hand edit to one field's text can't be mistaken for a change to another.
func render(e vaultEntity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", e.name)
	fmt.Fprintf(&b, "### Type\n%s\n\n", e.entityType)
	fmt.Fprintf(&b, "### Importance\n%s\n\n", strconv.FormatFloat(e.importance, 'f', 3, 64))
	fmt.Fprintf(&b, "### Attention\n%s\n\n", e.attentionTier)
	if e.contactTrend != "" {
		fmt.Fprintf(&b, "### Contact trend\n%s\n\n", e.contactTrend)
	}
	if e.lastContactAt != "" {
		fmt.Fprintf(&b, "### Last contact\n%s\n\n", e.lastContactAt)
	}
	if len(e.metadata) > 0 {
		b.WriteString("### Metadata\n")
		keys := make([]string, 0, len(e.metadata))
		for k := range e.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, e.metadata[k])
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "_updated %s_\n", e.updatedAt)
	return b.String()
}

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (a *MarkdownAdapter) loadHashes(ctx context.Context) (map[string]string, error) {
	raw, err := a.st.MetaGet(ctx, canvasHashesMetaKey)
	if errors.Is(err, sql.ErrNoRows) || raw == "" {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load canvas hashes: %w", err)
	}
	var hashes map[string]string
	if err := json.Unmarshal([]byte(raw), &hashes); err != nil {
		return map[string]string{}, nil
	}
	return hashes, nil
}

func (a *MarkdownAdapter) saveHashes(ctx context.Context, hashes map[string]string) error {
	raw, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("marshal canvas hashes: %w", err)
	}
	if err := a.st.MetaSet(ctx, canvasHashesMetaKey, string(raw)); err != nil {
		return fmt.Errorf("persist canvas hashes: %w", err)
	}

	mirror := struct {
		CanvasHashes map[string]string `yaml:"canvas_hashes"`
	}{CanvasHashes: hashes}
	mirrorYAML, err := yaml.Marshal(mirror)
	if err != nil {
		return fmt.Errorf("marshal last-sync mirror: %w", err)
	}
	mirrorPath := filepath.Join(a.dir, "_meta", lastSyncFileName)
	if err := os.WriteFile(mirrorPath, mirrorYAML, 0o644); err != nil {
		return fmt.Errorf("write last-sync mirror: %w", err)
	}
	return nil
}

// onDiskHash returns the hash of the note currently on disk for name, or "" if the note
// does not exist yet.
func (a *MarkdownAdapter) onDiskHash(canonicalName string) (string, bool, error) {
	path := filepath.Join(a.dir, filenameFor(canonicalName))
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read note %q: %w", path, err)
	}
	return hashOf(string(content)), true, nil
}

// Sync renders every live entity to the vault. An entity whose on-disk note has been
// hand-edited since the last recorded hash is skipped (logged, not overwritten) rather
// than clobbering the edit; it is written again only once the note on disk matches the
// recorded hash again or the note file has been removed.
func (a *MarkdownAdapter) Sync(ctx context.Context) (int, error) {
	entities, err := a.liveEntities(ctx)
	if err != nil {
		return 0, err
	}
	hashes, err := a.loadHashes(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, e := range entities {
		recorded, hasRecorded := hashes[e.canonicalName]
		onDisk, exists, err := a.onDiskHash(e.canonicalName)
		if err != nil {
			return written, err
		}
		if exists && hasRecorded && onDisk != recorded {
			a.log.Warn("vault note has been hand-edited since last sync, skipping overwrite",
				"entity", e.canonicalName)
			continue
		}

		content := render(e)
		path := filepath.Join(a.dir, filenameFor(e.canonicalName))
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return written, fmt.Errorf("write note %q: %w", path, err)
		}
		hashes[e.canonicalName] = hashOf(content)
		written++
	}

	if err := a.saveHashes(ctx, hashes); err != nil {
		return written, err
	}
	return written, nil
}

// DetectUserEdits compares every recorded hash against what is currently on disk,
// without writing anything, and returns the canonical names that differ.
func (a *MarkdownAdapter) DetectUserEdits(ctx context.Context) ([]string, error) {
	hashes, err := a.loadHashes(ctx)
	if err != nil {
		return nil, err
	}

	var changed []string
	for name, recorded := range hashes {
		onDisk, exists, err := a.onDiskHash(name)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		if onDisk != recorded {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed, nil
}
