package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// stateFileName is the on-disk LRU index inside the cache directory: a
// JSON array of content ids, oldest first.
const stateFileName = "state.json"

// loadState reads the persisted LRU order. A missing file is an empty
// cache; a corrupt file is reported so the caller can log and start
// empty rather than fail.
func loadState(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state []string
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// saveState persists the LRU order atomically (temp file + rename), so
// a crash mid-save cannot truncate the index.
func saveState(path string, state []string) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
