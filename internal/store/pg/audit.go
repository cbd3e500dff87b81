package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"brokeris.org/internal/audit"
)

var _ audit.Sink = (*Store)(nil)

// Append writes one audit entry. The table is insert-only; nothing in the
// service updates or deletes from it.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	previous, err := marshalValues(entry.PreviousValues)
	if err != nil {
		return fmt.Errorf("marshal previous values: %w", err)
	}
	next, err := marshalValues(entry.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log (id, actor_user_id, action, entity_type, entity_id, previous_values, new_values, actor_ip, actor_agent, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.ActorUserID, string(entry.Action), entry.EntityType, entry.EntityID,
		previous, next, nullIfEmpty(entry.ActorIP), nullIfEmpty(entry.ActorAgent), entry.CreatedAt)
	return err
}

func marshalValues(values map[string]any) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}
