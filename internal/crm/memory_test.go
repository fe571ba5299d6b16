package crm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateRetrieve(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	id, err := gw.Create(ctx, EntityUser, map[string]any{
		FieldUsername: "alice",
		FieldFullName: "Alice Test",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned empty id")
	}

	rec, err := gw.Retrieve(ctx, EntityUser, id, nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if rec.String(FieldID) != id || rec.String(FieldUsername) != "alice" {
		t.Errorf("record = %v", rec)
	}
}

func TestRetrieveMissingIsNilNil(t *testing.T) {
	gw := NewMemory()

	rec, err := gw.Retrieve(context.Background(), EntityUser, "no-such-id", nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if rec != nil {
		t.Errorf("record = %v, want nil", rec)
	}
}

func TestFieldProjectionKeepsID(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	id, _ := gw.Create(ctx, EntityUser, map[string]any{
		FieldUsername:     "alice",
		FieldPasswordHash: "hashhash",
	})

	rec, err := gw.Retrieve(ctx, EntityUser, id, []string{FieldUsername})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if rec.String(FieldID) != id {
		t.Error("projection dropped the id")
	}
	if rec.String(FieldUsername) != "alice" {
		t.Error("projection dropped a requested field")
	}
	if _, ok := rec[FieldPasswordHash]; ok {
		t.Error("projection leaked an unrequested field")
	}
}

func TestQueryConditions(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "alicia"} {
		gw.Create(ctx, EntityUser, map[string]any{FieldUsername: u})
	}

	records, err := gw.RetrieveMultiple(ctx, Query{
		EntityType: EntityUser,
		Conditions: []Condition{{Field: FieldUsername, Op: OpEqual, Value: "bob"}},
	})
	if err != nil {
		t.Fatalf("RetrieveMultiple: %v", err)
	}
	if len(records) != 1 || records[0].String(FieldUsername) != "bob" {
		t.Errorf("eq query = %v", records)
	}

	records, err = gw.RetrieveMultiple(ctx, Query{
		EntityType: EntityUser,
		Conditions: []Condition{{Field: FieldUsername, Op: OpLike, Value: "ali"}},
		OrderBy:    FieldUsername,
	})
	if err != nil {
		t.Fatalf("RetrieveMultiple: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("like query returned %d records", len(records))
	}
	if records[0].String(FieldUsername) != "alice" || records[1].String(FieldUsername) != "alicia" {
		t.Errorf("order = %q, %q", records[0].String(FieldUsername), records[1].String(FieldUsername))
	}
}

func TestQueryLimit(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c", "d"} {
		gw.Create(ctx, EntityUser, map[string]any{FieldUsername: u})
	}

	records, err := gw.RetrieveMultiple(ctx, Query{
		EntityType: EntityUser,
		OrderBy:    FieldUsername,
		Limit:      2,
	})
	if err != nil {
		t.Fatalf("RetrieveMultiple: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("limit query returned %d records", len(records))
	}
}

func TestTimestampOrderingMatchesChronology(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	// Ordering is textual, so the fixed-width layout must keep it
	// chronological across day and month boundaries.
	times := []time.Time{
		time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 5, 9, 30, 0, 500, time.UTC),
	}
	for _, ts := range times {
		gw.Create(ctx, EntityMessage, map[string]any{
			FieldTimestamp: ts.Format(TimeLayout),
		})
	}

	records, err := gw.RetrieveMultiple(ctx, Query{
		EntityType: EntityMessage,
		OrderBy:    FieldTimestamp,
	})
	if err != nil {
		t.Fatalf("RetrieveMultiple: %v", err)
	}
	var prev time.Time
	for i, rec := range records {
		got := rec.Time(FieldTimestamp)
		if i > 0 && got.Before(prev) {
			t.Fatalf("records out of order at %d: %v before %v", i, got, prev)
		}
		prev = got
	}
}

func TestUpdate(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	id, _ := gw.Create(ctx, EntityMessage, map[string]any{
		FieldText:   "hello",
		FieldIsRead: false,
	})

	if err := gw.Update(ctx, EntityMessage, id, map[string]any{FieldIsRead: true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, _ := gw.Retrieve(ctx, EntityMessage, id, nil)
	if !rec.Bool(FieldIsRead) {
		t.Error("update not applied")
	}
	if rec.String(FieldText) != "hello" {
		t.Error("update clobbered an untouched field")
	}

	if err := gw.Update(ctx, EntityMessage, "no-such-id", map[string]any{FieldIsRead: true}); err == nil {
		t.Error("updating a missing record should fail")
	}
}

func TestDeleteAndAssign(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	id, _ := gw.Create(ctx, EntityCase, map[string]any{FieldText: "case"})

	if err := gw.Assign(ctx, EntityCase, id, "owner-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	rec, _ := gw.Retrieve(ctx, EntityCase, id, nil)
	if rec.String(FieldOwner) != "owner-1" {
		t.Errorf("owner = %q", rec.String(FieldOwner))
	}

	if err := gw.Delete(ctx, EntityCase, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rec, _ := gw.Retrieve(ctx, EntityCase, id, nil); rec != nil {
		t.Error("record still present after delete")
	}
	if err := gw.Delete(ctx, EntityCase, id); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestSetErrorSimulatesOutage(t *testing.T) {
	gw := NewMemory()
	ctx := context.Background()

	outage := errors.New("gateway down")
	gw.SetError(outage)

	if _, err := gw.Create(ctx, EntityUser, map[string]any{FieldUsername: "x"}); !errors.Is(err, outage) {
		t.Errorf("Create err = %v", err)
	}
	if _, err := gw.RetrieveMultiple(ctx, Query{EntityType: EntityUser}); !errors.Is(err, outage) {
		t.Errorf("RetrieveMultiple err = %v", err)
	}
	if err := gw.Ping(ctx); !errors.Is(err, outage) {
		t.Errorf("Ping err = %v", err)
	}

	gw.SetError(nil)
	if _, err := gw.Create(ctx, EntityUser, map[string]any{FieldUsername: "x"}); err != nil {
		t.Errorf("Create after recovery: %v", err)
	}
}
