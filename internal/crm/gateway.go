package crm

import (
	"context"
	"time"
)

// Entity logical names used by this service.
const (
	EntityUser    = "systemuser"
	EntityMessage = "cb_chatmessage"
	EntityCase    = "incident"
	EntityNote    = "annotation"
)

// Field names on the entities above.
const (
	FieldID           = "id"
	FieldUsername     = "username"
	FieldFullName     = "fullname"
	FieldEmail        = "email"
	FieldPasswordHash = "passwordhash"
	FieldFrom         = "fromuserid"
	FieldTo           = "touserid"
	FieldText         = "text"
	FieldTimestamp    = "timestamp"
	FieldIsRead       = "isread"
	FieldAttachName   = "attachmentname"
	FieldAttachMime   = "attachmentmime"
	FieldAttachSize   = "attachmentsize"
	FieldAttachURL    = "attachmenturl"
	FieldOwner        = "ownerid"
)

// TimeLayout is the fixed-width timestamp format stored on records.
// Fixed width keeps lexicographic order identical to chronological
// order, which the Postgres backend relies on for sorting.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Op is a query condition operator.
type Op string

const (
	OpEqual Op = "eq"
	OpLike  Op = "like"
)

// Condition is a single filter clause. All conditions in a query are
// combined with AND.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Query describes a RetrieveMultiple call: equality/like conditions
// plus optional ascending ordering on one field.
type Query struct {
	EntityType string
	Fields     []string // empty means all fields
	Conditions []Condition
	OrderBy    string // ascending when set
	Limit      int    // 0 means no limit
}

// Where appends an equality condition and returns the query for chaining.
func (q Query) Where(field string, value any) Query {
	q.Conditions = append(q.Conditions, Condition{Field: field, Op: OpEqual, Value: value})
	return q
}

// Record is a CRM record as a field map. The record id is carried under
// FieldID regardless of backend.
type Record map[string]any

// String returns a field as a string, or "" when absent.
func (r Record) String(field string) string {
	if v, ok := r[field]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Bool returns a field as a bool. JSON backends may hand back either a
// real bool or the strings "true"/"false".
func (r Record) Bool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// Int64 returns a numeric field, tolerating the float64 that
// encoding/json produces.
func (r Record) Int64(field string) int64 {
	switch v := r[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Time parses a timestamp field stored in TimeLayout (RFC3339 accepted
// as a fallback). Returns the zero time when absent or unparseable.
func (r Record) Time(field string) time.Time {
	s := r.String(field)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}

// Gateway is the synchronous request/response facade over the CRM
// entity store. Retrieve returns (nil, nil) when the record does not
// exist; callers decide whether that is an error.
type Gateway interface {
	Retrieve(ctx context.Context, entityType, id string, fields []string) (Record, error)
	RetrieveMultiple(ctx context.Context, q Query) ([]Record, error)
	Create(ctx context.Context, entityType string, fields map[string]any) (string, error)
	Update(ctx context.Context, entityType, id string, fields map[string]any) error
	Delete(ctx context.Context, entityType, id string) error
	Assign(ctx context.Context, entityType, id, assigneeID string) error
	Ping(ctx context.Context) error
	Close()
}
