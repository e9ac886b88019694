package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memoryd/memoryd/internal/store"
)

// migrationCompletedMetaKey mirrors the original script's is_migration_completed guard,
// stored as a _meta row on the active database rather than a separate marker file.
const migrationCompletedMetaKey = "legacy_migration_completed"

func newMigrateLegacyCmd() *cobra.Command {
	var legacyDB, activeDB, projectDir string
	var dryRun, force bool

	cmd := &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Import entities, memories, links, and relationships from a pre-project-hash legacy database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateLegacy(cmd.Context(), legacyDB, activeDB, projectDir, dryRun, force)
		},
	}

	cmd.Flags().StringVar(&legacyDB, "legacy-db", "", "path to legacy database (default: ~/.claudia/memory/claudia.db)")
	cmd.Flags().StringVar(&activeDB, "active-db", "", "path to target/active database")
	cmd.Flags().StringVar(&projectDir, "project-dir", "", "project directory (used to compute target database path)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview migration without making changes")
	cmd.Flags().BoolVar(&force, "force", false, "run migration even if already completed")
	return cmd
}

func runMigrateLegacy(ctx context.Context, legacyDB, activeDB, projectDir string, dryRun, force bool) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	legacyPath, err := resolveLegacyPath(legacyDB)
	if err != nil {
		return err
	}
	if _, err := os.Stat(legacyPath); err != nil {
		return fmt.Errorf("legacy database not found: %s", legacyPath)
	}

	activePath, err := resolveActivePath(activeDB, projectDir)
	if err != nil {
		return err
	}
	if sameFile(legacyPath, activePath) {
		return fmt.Errorf("legacy and active databases are the same file: %s", legacyPath)
	}

	legacyStore, err := store.Open(ctx, legacyPath, log)
	if err != nil {
		return fmt.Errorf("open legacy database: %w", err)
	}
	defer legacyStore.Close()

	stats, err := legacyStats(ctx, legacyStore)
	if err != nil {
		return fmt.Errorf("read legacy database: %w", err)
	}
	if stats.entities == 0 && stats.memories == 0 {
		fmt.Printf("Legacy database at %s has no data to migrate.\n", legacyPath)
		return nil
	}

	fmt.Printf("\nLegacy database: %s\n", legacyPath)
	fmt.Printf("Active database: %s\n\n", activePath)
	fmt.Printf("  Entities:      %d\n", stats.entities)
	fmt.Printf("  Memories:      %d\n", stats.memories)
	fmt.Printf("  Links:         %d\n", stats.links)
	fmt.Printf("  Relationships: %d\n", stats.relationships)

	activeExisted := fileExists(activePath)
	activeStore, err := store.Open(ctx, activePath, log)
	if err != nil {
		return fmt.Errorf("open active database: %w", err)
	}
	defer activeStore.Close()

	completed, err := activeStore.MetaGet(ctx, migrationCompletedMetaKey)
	if err == nil && completed == "true" && !force {
		fmt.Println("\nMigration was already completed previously. Use --force to run again.")
		return nil
	}

	if dryRun {
		fmt.Println("\n--- DRY RUN MODE (no changes will be made) ---")
		return nil
	}

	if activeExisted {
		backupPath, err := activeStore.Backup(ctx, 7)
		if err != nil {
			log.Warn("pre-migration backup failed", "error", err)
		} else {
			fmt.Printf("\nBackup created: %s\n", backupPath)
		}
	}

	if !force {
		fmt.Print("\nProceed with migration? (y/N): ")
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(line)) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	fmt.Println("\nMigrating...")
	results, err := migrateLegacyData(ctx, legacyStore, activeStore)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := activeStore.MetaSet(ctx, migrationCompletedMetaKey, "true"); err != nil {
		log.Warn("failed to mark migration completed", "error", err)
	}

	renamedPath := legacyPath + ".migrated-" + time.Now().UTC().Format("2006-01-02")
	legacyStore.Close()
	if err := os.Rename(legacyPath, renamedPath); err != nil {
		fmt.Printf("Warning: could not rename legacy database: %v\n", err)
	} else {
		fmt.Printf("\nRenamed: %s -> %s\n", filepath.Base(legacyPath), filepath.Base(renamedPath))
	}

	fmt.Println("\nResults:")
	fmt.Printf("  entities: %d\n", results.entities)
	fmt.Printf("  memories: %d\n", results.memories)
	fmt.Printf("  links: %d\n", results.links)
	fmt.Printf("  relationships: %d\n", results.relationships)
	fmt.Println("\nDone.")
	return nil
}

func resolveLegacyPath(legacyDB string) (string, error) {
	if legacyDB != "" {
		return legacyDB, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claudia", "memory", "claudia.db"), nil
}

func resolveActivePath(activeDB, projectDir string) (string, error) {
	if activeDB != "" {
		return activeDB, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if projectDir != "" {
		sum := sha256.Sum256([]byte(projectDir))
		hash := hex.EncodeToString(sum[:])[:12]
		return filepath.Join(home, ".claudia", "memory", hash+".db"), nil
	}
	return defaultDatabasePath()
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

type legacyCounts struct {
	entities, memories, links, relationships int
}

func legacyStats(ctx context.Context, st *store.Store) (legacyCounts, error) {
	var c legacyCounts
	queries := []struct {
		dest  *int
		query string
	}{
		{&c.entities, "SELECT COUNT(*) FROM entities"},
		{&c.memories, "SELECT COUNT(*) FROM memories"},
		{&c.links, "SELECT COUNT(*) FROM memory_entities"},
		{&c.relationships, "SELECT COUNT(*) FROM relationships"},
	}
	for _, q := range queries {
		if err := st.DB().QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return c, err
		}
	}
	return c, nil
}

// migrateLegacyData copies every row from legacy into active, remapping entity and
// memory IDs since AUTOINCREMENT assigns fresh ones on insert into the (possibly
// non-empty) active database. Entities are copied first so memories and relationships
// can resolve their new entity IDs.
func migrateLegacyData(ctx context.Context, legacy, active *store.Store) (legacyCounts, error) {
	var results legacyCounts

	entityIDMap, err := copyEntities(ctx, legacy, active)
	if err != nil {
		return results, fmt.Errorf("copy entities: %w", err)
	}
	results.entities = len(entityIDMap)

	memoryIDMap, err := copyMemories(ctx, legacy, active)
	if err != nil {
		return results, fmt.Errorf("copy memories: %w", err)
	}
	results.memories = len(memoryIDMap)

	links, err := copyMemoryEntities(ctx, legacy, active, memoryIDMap, entityIDMap)
	if err != nil {
		return results, fmt.Errorf("copy links: %w", err)
	}
	results.links = links

	rels, err := copyRelationships(ctx, legacy, active, entityIDMap)
	if err != nil {
		return results, fmt.Errorf("copy relationships: %w", err)
	}
	results.relationships = rels

	return results, nil
}

func copyEntities(ctx context.Context, legacy, active *store.Store) (map[int64]int64, error) {
	rows, err := legacy.DB().QueryContext(ctx, `
		SELECT id, name, canonical_name, type, importance, metadata, created_at, updated_at
		FROM entities WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	idMap := make(map[int64]int64)
	for rows.Next() {
		var oldID int64
		var name, canonical, entityType, metadata, createdAt, updatedAt string
		var importance float64
		if err := rows.Scan(&oldID, &name, &canonical, &entityType, &importance, &metadata, &createdAt, &updatedAt); err != nil {
			return nil, err
		}

		existing, err := active.GetOne(ctx, "entities", "canonical_name = ? AND deleted_at IS NULL", []any{canonical})
		if err == nil && existing != nil {
			idMap[oldID] = toInt64(existing["id"])
			continue
		}

		newID, err := active.Insert(ctx, "entities", map[string]any{
			"name": name, "canonical_name": canonical, "type": entityType,
			"importance": importance, "metadata": metadata,
			"created_at": createdAt, "updated_at": updatedAt,
		})
		if err != nil {
			return nil, err
		}
		idMap[oldID] = newID
	}
	return idMap, rows.Err()
}

func copyMemories(ctx context.Context, legacy, active *store.Store) (map[int64]int64, error) {
	rows, err := legacy.DB().QueryContext(ctx, `
		SELECT id, content, content_hash, type, importance, confidence, source_channel,
		       metadata, created_at, updated_at
		FROM memories WHERE invalidated_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	idMap := make(map[int64]int64)
	for rows.Next() {
		var oldID int64
		var content, hash, memType, channel, metadata, createdAt, updatedAt string
		var importance, confidence float64
		if err := rows.Scan(&oldID, &content, &hash, &memType, &importance, &confidence, &channel, &metadata, &createdAt, &updatedAt); err != nil {
			return nil, err
		}

		if existing, err := active.GetOne(ctx, "memories", "content_hash = ?", []any{hash}); err == nil && existing != nil {
			idMap[oldID] = toInt64(existing["id"])
			continue
		}

		newID, err := active.Insert(ctx, "memories", map[string]any{
			"content": content, "content_hash": hash, "type": memType,
			"importance": importance, "confidence": confidence, "source_channel": channel,
			"metadata": metadata, "created_at": createdAt, "updated_at": updatedAt,
		})
		if err != nil {
			return nil, err
		}
		idMap[oldID] = newID
	}
	return idMap, rows.Err()
}

func copyMemoryEntities(ctx context.Context, legacy, active *store.Store, memoryIDMap, entityIDMap map[int64]int64) (int, error) {
	rows, err := legacy.DB().QueryContext(ctx, "SELECT memory_id, entity_id, relationship FROM memory_entities")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var oldMemoryID, oldEntityID int64
		var relationship string
		if err := rows.Scan(&oldMemoryID, &oldEntityID, &relationship); err != nil {
			return count, err
		}
		newMemoryID, okM := memoryIDMap[oldMemoryID]
		newEntityID, okE := entityIDMap[oldEntityID]
		if !okM || !okE {
			continue
		}
		if _, err := active.DB().ExecContext(ctx,
			"INSERT OR IGNORE INTO memory_entities(memory_id, entity_id, relationship) VALUES (?, ?, ?)",
			newMemoryID, newEntityID, relationship); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}

func copyRelationships(ctx context.Context, legacy, active *store.Store, entityIDMap map[int64]int64) (int, error) {
	rows, err := legacy.DB().QueryContext(ctx, `
		SELECT source_entity_id, target_entity_id, relationship_type, direction, strength,
		       origin_type, valid_at, created_at, updated_at
		FROM relationships`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var oldSource, oldTarget int64
		var relType, direction, origin, validAt, createdAt, updatedAt string
		var strength float64
		if err := rows.Scan(&oldSource, &oldTarget, &relType, &direction, &strength, &origin, &validAt, &createdAt, &updatedAt); err != nil {
			return count, err
		}
		newSource, okS := entityIDMap[oldSource]
		newTarget, okT := entityIDMap[oldTarget]
		if !okS || !okT {
			continue
		}
		if _, err := active.Insert(ctx, "relationships", map[string]any{
			"source_entity_id": newSource, "target_entity_id": newTarget,
			"relationship_type": relType, "direction": direction, "strength": strength,
			"origin_type": origin, "valid_at": validAt, "created_at": createdAt, "updated_at": updatedAt,
		}); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
