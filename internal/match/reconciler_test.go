package match

import (
	"context"
	"testing"

	"github.com/patchdb/patchdb/internal/catalog"
	"github.com/patchdb/patchdb/internal/models"
)

// fakeLookup is an in-memory catalog slice for reconciler tests.
type fakeLookup struct {
	patches map[int64]*models.Patch
	groups  map[int64]*models.PatchGroup
}

func (f *fakeLookup) GetPatchByID(_ context.Context, id int64) (*models.Patch, error) {
	p, ok := f.patches[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

func (f *fakeLookup) GetPatchGroupByID(_ context.Context, id int64) (*models.PatchGroup, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return g, nil
}

func groupID(id int64) *int64 { return &id }

func TestReconcile_Partition(t *testing.T) {
	lookup := &fakeLookup{
		patches: map[int64]*models.Patch{
			1: {ID: 1, Path: "a.png", GroupID: groupID(10)},
			2: {ID: 2, Path: "b.png", GroupID: groupID(10)},
			3: {ID: 3, Path: "c.png"},
			4: {ID: 4, Path: "d.png", GroupID: groupID(20)},
		},
		groups: map[int64]*models.PatchGroup{
			10: {ID: 10, Name: "Scout Eagle"},
			20: {ID: 20, Name: "Jamboree 2019"},
		},
	}
	r := NewReconciler(lookup, nil)

	hits := []models.RawMatch{
		{PatchID: 1, Score: 0.95},
		{PatchID: 4, Score: 0.91},
		{PatchID: 2, Score: 0.90},
		{PatchID: 3, Score: 0.80},
	}
	matches, ungrouped, err := r.Reconcile(context.Background(), hits)
	if err != nil {
		t.Fatal(err)
	}
	// 2 distinct groups + 1 ungrouped = 3 output entries from 4 raw hits.
	if len(matches) != 2 {
		t.Fatalf("expected 2 grouped matches, got %d", len(matches))
	}
	if len(ungrouped) != 1 {
		t.Fatalf("expected 1 ungrouped match, got %d", len(ungrouped))
	}
	seen := map[int64]bool{}
	for _, m := range matches {
		if m.GroupID == nil {
			t.Fatal("grouped match missing group id")
		}
		if seen[*m.GroupID] {
			t.Errorf("group %d appears twice", *m.GroupID)
		}
		seen[*m.GroupID] = true
	}
	if ungrouped[0].ID != 3 || ungrouped[0].GroupID != nil {
		t.Errorf("unexpected ungrouped match: %+v", ungrouped[0])
	}
}

func TestReconcile_BestPerGroup(t *testing.T) {
	lookup := &fakeLookup{
		patches: map[int64]*models.Patch{
			1: {ID: 1, Path: "a.png", GroupID: groupID(10)},
			2: {ID: 2, Path: "b.png", GroupID: groupID(10)},
		},
		groups: map[int64]*models.PatchGroup{
			10: {ID: 10, Name: "Scout Eagle"},
		},
	}
	r := NewReconciler(lookup, nil)

	matches, _, err := r.Reconcile(context.Background(), []models.RawMatch{
		{PatchID: 2, Score: 0.95},
		{PatchID: 1, Score: 0.90},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Score != 0.95 || matches[0].ID != 2 {
		t.Errorf("expected best member (id 2, 0.95), got id %d score %f", matches[0].ID, matches[0].Score)
	}
}

func TestReconcile_UnorderedInput(t *testing.T) {
	// Callers normally pass score-descending hits, but the comparison must
	// hold for arbitrary order too.
	lookup := &fakeLookup{
		patches: map[int64]*models.Patch{
			1: {ID: 1, Path: "a.png", GroupID: groupID(10)},
			2: {ID: 2, Path: "b.png", GroupID: groupID(10)},
		},
		groups: map[int64]*models.PatchGroup{
			10: {ID: 10, Name: "Scout Eagle"},
		},
	}
	r := NewReconciler(lookup, nil)

	matches, _, err := r.Reconcile(context.Background(), []models.RawMatch{
		{PatchID: 1, Score: 0.90},
		{PatchID: 2, Score: 0.95}, // higher score later
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Score != 0.95 {
		t.Errorf("later higher score should win: %+v", matches)
	}
}

func TestReconcile_EqualScoresFirstWins(t *testing.T) {
	lookup := &fakeLookup{
		patches: map[int64]*models.Patch{
			1: {ID: 1, Path: "a.png", GroupID: groupID(10)},
			2: {ID: 2, Path: "b.png", GroupID: groupID(10)},
		},
		groups: map[int64]*models.PatchGroup{
			10: {ID: 10, Name: "Scout Eagle"},
		},
	}
	r := NewReconciler(lookup, nil)

	matches, _, err := r.Reconcile(context.Background(), []models.RawMatch{
		{PatchID: 1, Score: 0.9},
		{PatchID: 2, Score: 0.9},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != 1 {
		t.Errorf("first-seen should win on equal scores: %+v", matches)
	}
}

func TestReconcile_DanglingReferenceSkipped(t *testing.T) {
	lookup := &fakeLookup{
		patches: map[int64]*models.Patch{
			1: {ID: 1, Path: "a.png"},
		},
		groups: map[int64]*models.PatchGroup{},
	}
	r := NewReconciler(lookup, nil)

	matches, ungrouped, err := r.Reconcile(context.Background(), []models.RawMatch{
		{PatchID: 99, Score: 0.99}, // no catalog row
		{PatchID: 1, Score: 0.80},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 || len(ungrouped) != 1 {
		t.Fatalf("dangling hit should be skipped: matches=%d ungrouped=%d", len(matches), len(ungrouped))
	}
	if ungrouped[0].ID != 1 {
		t.Errorf("surviving hit should be patch 1, got %d", ungrouped[0].ID)
	}
}

func TestReconcile_MissingGroupRow(t *testing.T) {
	lookup := &fakeLookup{
		patches: map[int64]*models.Patch{
			1: {ID: 1, Path: "a.png", GroupID: groupID(10)},
		},
		groups: map[int64]*models.PatchGroup{}, // group row gone
	}
	r := NewReconciler(lookup, nil)

	matches, _, err := r.Reconcile(context.Background(), []models.RawMatch{
		{PatchID: 1, Score: 0.9},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].GroupName == nil || *matches[0].GroupName != "Unknown Group" {
		t.Errorf("expected Unknown Group fallback, got %v", matches[0].GroupName)
	}
}

func TestReconcile_Empty(t *testing.T) {
	r := NewReconciler(&fakeLookup{}, nil)
	matches, ungrouped, err := r.Reconcile(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if matches == nil || ungrouped == nil {
		t.Fatal("expected empty slices, got nil")
	}
	if len(matches) != 0 || len(ungrouped) != 0 {
		t.Errorf("expected empty output, got %d/%d", len(matches), len(ungrouped))
	}
}
