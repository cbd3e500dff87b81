package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// Action classifies a mutating operation.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// UnknownEntityID is recorded when no entity identifier could be resolved.
// Incomplete audit metadata never fails the operation that triggered it.
const UnknownEntityID = "0"

// Entry is one immutable audit record. Entries are appended exactly once per
// qualifying mutation and never updated or deleted afterwards.
type Entry struct {
	ID             string         `json:"id"`
	ActorUserID    string         `json:"actor_user_id"`
	Action         Action         `json:"action"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	PreviousValues map[string]any `json:"previous_values,omitempty"`
	NewValues      map[string]any `json:"new_values,omitempty"`
	ActorIP        string         `json:"actor_ip,omitempty"`
	ActorAgent     string         `json:"actor_agent,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Sink is a durable append-only destination for audit entries.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// actionForMethod maps an operation's method class to an audit action. Read
// classes map to nothing: they never produce entries.
func actionForMethod(method string) (Action, bool) {
	switch method {
	case "POST":
		return ActionCreate, true
	case "PUT", "PATCH":
		return ActionUpdate, true
	case "DELETE":
		return ActionDelete, true
	default:
		return "", false
	}
}

// entityIDFromPayload digs an identifier out of a result payload. Accepts
// string ids and JSON numbers under the conventional keys.
func entityIDFromPayload(payload map[string]any) string {
	for _, key := range []string{"id", "entity_id"} {
		v, ok := payload[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				return val
			}
		case json.Number:
			return val.String()
		case float64:
			return strconv.FormatInt(int64(val), 10)
		case int64:
			return strconv.FormatInt(val, 10)
		case int:
			return strconv.Itoa(val)
		}
	}
	return ""
}
