package asana

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"callconfirm/internal/calls"
	"callconfirm/internal/requests"
)

// FieldMap holds the workspace-specific custom field gids. These ids never leave this package.
type FieldMap struct {
	Phone        string
	Mode         string
	RetryCount   string
	LastCallTime string
	Outcome      string
	Status       string

	// StatusOptions maps each status to its enum option gid on the Status field.
	StatusOptions map[calls.Status]string
}

func (m FieldMap) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"phone": m.Phone, "mode": m.Mode, "retry_count": m.RetryCount,
		"last_call_time": m.LastCallTime, "outcome": m.Outcome, "status": m.Status,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("asana: %s field id is required", name))
		}
	}
	for _, s := range []calls.Status{calls.StatusPending, calls.StatusConfirmed, calls.StatusUnavailable} {
		if m.StatusOptions[s] == "" {
			errs = append(errs, fmt.Errorf("asana: %s status option id is required", s))
		}
	}
	return errors.Join(errs...)
}

// decode maps a task to a Request. Ledger state (active call, retry time) is merged by the store.
func (m FieldMap) decode(t Task) (calls.Request, error) {
	r := calls.Request{ID: t.GID, Name: t.Name, Status: calls.StatusPending, UpdatedAt: t.ModifiedAt}

	byGID := make(map[string]CustomField, len(t.CustomFields))
	for _, f := range t.CustomFields {
		byGID[f.GID] = f
	}

	r.Phone = strings.TrimSpace(textOf(byGID[m.Phone]))
	if r.Phone == "" {
		return calls.Request{}, fmt.Errorf("task %s: phone is empty", t.GID)
	}

	mode, err := calls.ParseMode(textOf(byGID[m.Mode]))
	if err != nil {
		return calls.Request{}, fmt.Errorf("task %s: %w", t.GID, err)
	}
	r.Mode = mode

	if f, ok := byGID[m.RetryCount]; ok && f.NumberValue != nil {
		r.RetryCount = int(*f.NumberValue)
	}

	if v := strings.TrimSpace(textOf(byGID[m.LastCallTime])); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return calls.Request{}, fmt.Errorf("task %s: last call time %q: %w", t.GID, v, err)
		}
		ts = ts.UTC()
		r.LastCallTime = &ts
	}

	if o, err := calls.ParseOutcome(textOf(byGID[m.Outcome])); err == nil {
		r.Outcome = o
	}

	if f, ok := byGID[m.Status]; ok && f.EnumValue != nil {
		for s, gid := range m.StatusOptions {
			if gid == f.EnumValue.GID {
				r.Status = s
			}
		}
	}
	return r, nil
}

// dispatchable reports whether a task may still be called. Completed tasks are closed, and so
// are tasks whose Status option is set to something outside StatusOptions.
func (m FieldMap) dispatchable(t Task) bool {
	if t.Completed {
		return false
	}
	for _, f := range t.CustomFields {
		if f.GID != m.Status || f.EnumValue == nil {
			continue
		}
		for _, gid := range m.StatusOptions {
			if gid == f.EnumValue.GID {
				return true
			}
		}
		return false
	}
	return true
}

// encode builds the custom_fields payload for a resolution.
func (m FieldMap) encode(res requests.Resolution) map[string]any {
	out := map[string]any{
		m.Outcome:    string(res.Outcome),
		m.RetryCount: res.RetryCount,
		m.Status:     m.StatusOptions[res.Status],
	}
	if res.AttemptedAt != nil {
		out[m.LastCallTime] = res.AttemptedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func (m FieldMap) encodeLastCallTime(at time.Time) map[string]any {
	return map[string]any{m.LastCallTime: at.UTC().Format(time.RFC3339)}
}

// textOf reads a field as text whatever its type: enum name, text value or display value.
func textOf(f CustomField) string {
	switch {
	case f.EnumValue != nil:
		return f.EnumValue.Name
	case f.TextValue != nil:
		return *f.TextValue
	case f.DisplayValue != nil:
		return *f.DisplayValue
	default:
		return ""
	}
}
