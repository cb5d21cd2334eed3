package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest is the session_<id>.json summary written on Stop (§6).
type Manifest struct {
	SessionID     string             `json:"session_id"`
	StartedAtMs   int64              `json:"started_at_ms"`
	EndedAtMs     int64              `json:"ended_at_ms"`
	CountsPerDoc  map[DocType]uint64 `json:"counts_per_doc_type"`
	CleanShutdown bool               `json:"clean_shutdown"`
}

// WriteManifest persists m to <root>/session_<id>.json. Manifests are
// never rewound or deleted (§7 user-visible failure behavior), so this
// always writes a new file named after the session id.
func WriteManifest(root string, m Manifest) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", root, err)
	}
	path := filepath.Join(root, fmt.Sprintf("session_%s.json", m.SessionID))
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
