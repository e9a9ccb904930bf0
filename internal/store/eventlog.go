package store

import (
	"time"

	"github.com/toruai/steering-plugins/internal/errs"
)

// EventType enumerates the lifecycle events appended to the event log (spec.md §3).
type EventType string

const (
	EventDiscovered       EventType = "discovered"
	EventSpawned          EventType = "spawned"
	EventInitSent         EventType = "init_sent"
	EventReady            EventType = "ready"
	EventShutdownSent     EventType = "shutdown_sent"
	EventKilled           EventType = "killed"
	EventCrashed          EventType = "crashed"
	EventRestartScheduled EventType = "restart_scheduled"
	EventRestarted        EventType = "restarted"
	EventDisabledAuto     EventType = "disabled_auto"
	EventEnabled          EventType = "enabled"
	EventDisabled         EventType = "disabled"
)

// Event is one append-only PluginEvent record.
type Event struct {
	ID        int64     `json:"id"`
	PluginID  string    `json:"plugin_id"`
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// AppendEvent records a single lifecycle event. Event-log appends for a
// given plugin id are emitted in transition order by virtue of the
// supervisor holding the per-plugin write lock across the transition that
// produces them (see internal/supervisor).
func (s *Store) AppendEvent(pluginID string, eventType EventType, details string) error {
	_, err := s.db.Exec(
		`INSERT INTO plugin_events (plugin_id, event_type, timestamp, details) VALUES (?, ?, ?, ?)`,
		pluginID, string(eventType), time.Now().UTC().Format(time.RFC3339Nano), details,
	)
	if err != nil {
		return errs.Wrap(errs.StorageError, pluginID, "event log append failed", err)
	}
	return nil
}

// EventsByPlugin returns events for pluginID, newest first, paginated by
// page (1-indexed) and pageSize. An empty level restricts to no filter;
// level here maps to EventType for simplicity, matching how the
// management API's "get logs" operation (spec.md §6) is described as
// "optional level filter".
func (s *Store) EventsByPlugin(pluginID string, page, pageSize int, eventType EventType) ([]Event, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	query := `SELECT id, plugin_id, event_type, timestamp, details FROM plugin_events WHERE plugin_id = ?`
	args := []any{pluginID}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, pluginID, "event log query failed", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		var eventTypeStr string
		if err := rows.Scan(&e.ID, &e.PluginID, &eventTypeStr, &ts, &e.Details); err != nil {
			return nil, errs.Wrap(errs.StorageError, pluginID, "event log scan failed", err)
		}
		e.Type = EventType(eventTypeStr)
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
