package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stellarcolony.ai/internal/persistence/indexdb"
)

// openRuntimeIndex opens the event index selected by STELLAR_INDEX_BACKEND.
// A nil index with a nil error means indexing is off.
func openRuntimeIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("STELLAR_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(indexPath(dataDir))
	default:
		return nil, fmt.Errorf("unsupported STELLAR_INDEX_BACKEND: %s", backend)
	}
}

func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "index", "stellar.sqlite")
}
