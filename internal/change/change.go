// Package change defines the request envelope producers submit and the typed
// mutation operations the worker dispatches on. Envelopes are validated at
// the boundary; payload items are parsed individually so one bad sub-item of
// a bulk request never hides the rest.
package change

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Actions accepted in an envelope.
const (
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionDelete       = "delete"
	ActionBulkCreate   = "bulk_create"
	ActionBulkUpdate   = "bulk_update"
	ActionBulkDelete   = "bulk_delete"
	ActionDirectCreate = "direct_create"
)

// Target graph kinds. The state path is accepted and recorded but dispatch is
// by action only; state-side payload semantics are reserved.
const (
	TypeSchema = "schema"
	TypeState  = "state"
)

var (
	// ErrMalformedPayload marks an envelope or payload item that fails
	// structural validation. The worker drops such items from in-flight.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrMissingVersion marks an envelope without a target version.
	ErrMissingVersion = errors.New("missing version")
)

// Envelope is one queued mutation request.
type Envelope struct {
	Action    string          `json:"action"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
	Payload   json.RawMessage `json:"payload"`
}

// IsBulk reports whether action carries a list of payload items.
func IsBulk(action string) bool {
	switch action {
	case ActionBulkCreate, ActionBulkUpdate, ActionBulkDelete:
		return true
	}
	return false
}

// Verb returns the single-item verb an action maps to.
func Verb(action string) string {
	switch action {
	case ActionCreate, ActionBulkCreate:
		return ActionCreate
	case ActionUpdate, ActionBulkUpdate:
		return ActionUpdate
	case ActionDelete, ActionBulkDelete:
		return ActionDelete
	}
	return action
}

// Decode unmarshals and validates an envelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %v: %w", err, ErrMalformedPayload)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate checks the envelope structure: known action and type, non-negative
// timestamp, present version, and a payload of the right shape (non-empty
// object for single actions, non-empty array for bulk actions).
func (e *Envelope) Validate() error {
	switch e.Action {
	case ActionCreate, ActionUpdate, ActionDelete,
		ActionBulkCreate, ActionBulkUpdate, ActionBulkDelete,
		ActionDirectCreate:
	default:
		return fmt.Errorf("unknown action %q: %w", e.Action, ErrMalformedPayload)
	}
	switch e.Type {
	case TypeSchema, TypeState:
	default:
		return fmt.Errorf("unknown type %q: %w", e.Type, ErrMalformedPayload)
	}
	if e.Timestamp < 0 {
		return fmt.Errorf("negative timestamp %d: %w", e.Timestamp, ErrMalformedPayload)
	}
	if e.Version == "" {
		return ErrMissingVersion
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("missing payload: %w", ErrMalformedPayload)
	}

	if IsBulk(e.Action) {
		var items []json.RawMessage
		if err := json.Unmarshal(e.Payload, &items); err != nil {
			return fmt.Errorf("%s payload must be an array: %w", e.Action, ErrMalformedPayload)
		}
		if len(items) == 0 {
			return fmt.Errorf("%s payload must not be empty: %w", e.Action, ErrMalformedPayload)
		}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(e.Payload, &obj); err != nil {
		return fmt.Errorf("%s payload must be an object: %w", e.Action, ErrMalformedPayload)
	}
	if len(obj) == 0 {
		return fmt.Errorf("%s payload must not be empty: %w", e.Action, ErrMalformedPayload)
	}
	return nil
}

// Items splits the payload into the individual payload items to apply: the
// members of a bulk array, or the payload itself for single and direct
// actions. Call Validate first; Items assumes a structurally valid envelope.
func (e *Envelope) Items() []json.RawMessage {
	if IsBulk(e.Action) {
		var items []json.RawMessage
		if err := json.Unmarshal(e.Payload, &items); err != nil {
			return nil
		}
		return items
	}
	return []json.RawMessage{e.Payload}
}
