package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/toruai/steering-plugins/internal/errs"
)

const instanceFileName = "instance.json"

type instanceRecord struct {
	InstanceID string `json:"instance_id"`
}

// LoadOrCreateInstanceID returns the persisted instance id under
// metadataDir, generating and persisting a fresh UUID v4 on first start
// (spec.md §3 InstanceId, §4.8).
func LoadOrCreateInstanceID(metadataDir string) (string, error) {
	path := filepath.Join(metadataDir, instanceFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		var rec instanceRecord
		if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil && rec.InstanceID != "" {
			return rec.InstanceID, nil
		}
	} else if !os.IsNotExist(err) {
		return "", errs.Wrap(errs.StorageError, "", "failed to read instance id", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(metadataDir, 0o755); err != nil {
		return "", errs.Wrap(errs.Fatal, "", "failed to create metadata dir", err)
	}
	data, err = json.Marshal(instanceRecord{InstanceID: id})
	if err != nil {
		return "", errs.Wrap(errs.StorageError, "", "failed to marshal instance id", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errs.Wrap(errs.StorageError, "", "failed to persist instance id", err)
	}
	return id, nil
}
