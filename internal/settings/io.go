package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ccimen/scc/internal/scerr"
)

// ManagedStateFile is the sidecar recording which settings.json keys the
// last merge wrote, stored alongside settings.json itself.
const ManagedStateFile = ".scc-managed-settings.json"

// Load reads settings.json at path, returning an empty Document if the
// file doesn't exist yet (a workspace's first launch has none).
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Document{}, nil
	}
	if err != nil {
		return nil, scerr.WrapConfigError(fmt.Sprintf("reading %s", path), err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, scerr.WrapConfigError(fmt.Sprintf("parsing %s", path), err)
	}
	return doc, nil
}

// LoadManagedState reads the managed-state sidecar next to settingsPath,
// returning an empty ManagedState if none has been written yet.
func LoadManagedState(settingsPath string) (ManagedState, error) {
	data, err := os.ReadFile(managedStatePath(settingsPath))
	if os.IsNotExist(err) {
		return ManagedState{}, nil
	}
	if err != nil {
		return ManagedState{}, scerr.WrapConfigError("reading managed-state sidecar", err)
	}
	var m ManagedState
	if err := json.Unmarshal(data, &m); err != nil {
		return ManagedState{}, scerr.WrapConfigError("parsing managed-state sidecar", err)
	}
	return m, nil
}

// Save atomically writes both settings.json and its managed-state
// sidecar. Both files are written tmp-then-rename so a crash between the
// two writes never leaves settings.json referencing a managed-state file
// that doesn't match it: settings.json is written first, since a stale
// managed-state describing a smaller key set than what's on disk is
// recoverable (the next merge just won't reclaim those keys), while the
// reverse would let a merge delete keys it never wrote.
func Save(settingsPath string, doc Document, managed ManagedState) error {
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
		return scerr.WrapConfigError(fmt.Sprintf("preparing directory for %s", settingsPath), err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings document: %w", err)
	}
	if err := atomicWrite(settingsPath, data); err != nil {
		return scerr.WrapConfigError(fmt.Sprintf("writing %s", settingsPath), err)
	}

	managedData, err := json.MarshalIndent(managed, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding managed state: %w", err)
	}
	if err := atomicWrite(managedStatePath(settingsPath), managedData); err != nil {
		return scerr.WrapConfigError("writing managed-state sidecar", err)
	}
	return nil
}

func managedStatePath(settingsPath string) string {
	return filepath.Join(filepath.Dir(settingsPath), ManagedStateFile)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
