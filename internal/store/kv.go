package store

import (
	"database/sql"

	"github.com/toruai/steering-plugins/internal/errs"
)

// KVGet returns the value stored for (pluginID, key), or ok=false if absent.
// Namespace isolation is enforced structurally: every query is parameterized
// on plugin_id, so no query can cross plugin boundaries regardless of key
// contents.
func (s *Store) KVGet(pluginID, key string) (value string, ok bool, err error) {
	row := s.db.QueryRow(`SELECT value FROM kv_entries WHERE plugin_id = ? AND key = ?`, pluginID, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			s.countKV(pluginID, "get")
			return "", false, nil
		}
		return "", false, errs.Wrap(errs.StorageError, pluginID, "kv get failed", err)
	}
	s.countKV(pluginID, "get")
	return value, true, nil
}

// KVSet upserts (pluginID, key) -> value.
func (s *Store) KVSet(pluginID, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv_entries (plugin_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(plugin_id, key) DO UPDATE SET value = excluded.value`,
		pluginID, key, value,
	)
	if err != nil {
		return errs.Wrap(errs.StorageError, pluginID, "kv set failed", err)
	}
	s.countKV(pluginID, "set")
	return nil
}

// KVDelete removes (pluginID, key), if present. Deleting an absent key is a no-op.
func (s *Store) KVDelete(pluginID, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv_entries WHERE plugin_id = ? AND key = ?`, pluginID, key)
	if err != nil {
		return errs.Wrap(errs.StorageError, pluginID, "kv delete failed", err)
	}
	s.countKV(pluginID, "delete")
	return nil
}

func (s *Store) countKV(pluginID, action string) {
	if s.metrics != nil {
		s.metrics.KVOpsTotal.WithLabelValues(pluginID, action).Inc()
	}
}
