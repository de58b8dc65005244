package mirror

import (
	"fmt"
	"strings"

	"tasksync/internal/service"
)

// DecodeError reports a snapshot that failed schema validation.
// The whole snapshot is rejected.
type DecodeError struct {
	Index  int
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("record %d: field %q: %s", e.Index, e.Field, e.Reason)
}

// Decode validates a snapshot and converts it to items in arrival order.
//
// Rules: "id" is a required non-empty string, unique within the snapshot;
// "title" is an optional string; "isDone" is an optional bool. Unknown keys
// are ignored. Any violation rejects the snapshot.
func Decode(records []service.Record) ([]Item, error) {
	items := make([]Item, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for i, rec := range records {
		if rec == nil {
			return nil, &DecodeError{Index: i, Reason: "null record"}
		}

		raw, ok := rec[service.FieldID]
		if !ok {
			return nil, &DecodeError{Index: i, Field: service.FieldID, Reason: "missing"}
		}
		id, ok := raw.(string)
		if !ok {
			return nil, &DecodeError{Index: i, Field: service.FieldID, Reason: fmt.Sprintf("want string, got %T", raw)}
		}
		if strings.TrimSpace(id) == "" {
			return nil, &DecodeError{Index: i, Field: service.FieldID, Reason: "empty"}
		}
		if _, dup := seen[id]; dup {
			return nil, &DecodeError{Index: i, Field: service.FieldID, Reason: fmt.Sprintf("duplicate id %q", id)}
		}
		seen[id] = struct{}{}

		item := Item{ID: id}

		if raw, ok := rec[service.FieldTitle]; ok && raw != nil {
			title, ok := raw.(string)
			if !ok {
				return nil, &DecodeError{Index: i, Field: service.FieldTitle, Reason: fmt.Sprintf("want string, got %T", raw)}
			}
			item.Title = title
		}

		if raw, ok := rec[service.FieldIsDone]; ok && raw != nil {
			done, ok := raw.(bool)
			if !ok {
				return nil, &DecodeError{Index: i, Field: service.FieldIsDone, Reason: fmt.Sprintf("want bool, got %T", raw)}
			}
			item.IsDone = done
		}

		items = append(items, item)
	}
	return items, nil
}
