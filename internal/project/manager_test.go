package project

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/softwareforge/forge/internal/store"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()
	return NewManager(store.NewTestDB(t, &Project{}))
}

func TestManager_Add(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	collection := uuid.New()
	existing := uuid.New()

	if err := mgr.Add(ctx, &Project{Name: "Fabrikam", GUID: existing, TeamCollectionGUID: collection}); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	tests := []struct {
		name    string
		project Project
		wantErr error
	}{
		{
			name:    "valid project",
			project: Project{Name: "Contoso", GUID: uuid.New(), TeamCollectionGUID: collection},
		},
		{
			name:    "duplicate guid",
			project: Project{Name: "Other", GUID: existing, TeamCollectionGUID: collection},
			wantErr: ErrProjectExists,
		},
		{
			name:    "empty name",
			project: Project{GUID: uuid.New(), TeamCollectionGUID: collection},
			wantErr: ErrEmptyProjectName,
		},
		{
			name:    "missing guid",
			project: Project{Name: "NoGuid", TeamCollectionGUID: collection},
			wantErr: ErrEmptyProjectGUID,
		},
		{
			name:    "missing collection",
			project: Project{Name: "Orphan", GUID: uuid.New()},
			wantErr: ErrEmptyCollectionID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.project
			err := mgr.Add(ctx, &p)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Manager.Add() error = %v", err)
				}
				if p.ID == 0 {
					t.Error("Manager.Add() did not assign an ID")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Manager.Add() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManager_Get(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	created, err := NewProject("Contoso", uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("NewProject() error = %v", err)
	}
	if err := mgr.Add(ctx, created); err != nil {
		t.Fatalf("Manager.Add() error = %v", err)
	}

	got, err := mgr.Get(ctx, created.GUID)
	if err != nil {
		t.Fatalf("Manager.Get() error = %v", err)
	}
	if got.Name != "Contoso" || got.TeamCollectionGUID != created.TeamCollectionGUID {
		t.Errorf("Manager.Get() = %+v, want %+v", got, created)
	}

	if _, err := mgr.Get(ctx, uuid.New()); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("Manager.Get() unknown guid error = %v, want ErrProjectNotFound", err)
	}
	if _, err := mgr.Get(ctx, uuid.Nil); !errors.Is(err, ErrEmptyProjectGUID) {
		t.Errorf("Manager.Get() nil guid error = %v, want ErrEmptyProjectGUID", err)
	}
}

func TestManager_ListAndDeleteByCollection(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	alpha, beta := uuid.New(), uuid.New()

	for _, p := range []*Project{
		{Name: "A1", GUID: uuid.New(), TeamCollectionGUID: alpha},
		{Name: "A2", GUID: uuid.New(), TeamCollectionGUID: alpha},
		{Name: "B1", GUID: uuid.New(), TeamCollectionGUID: beta},
	} {
		if err := mgr.Add(ctx, p); err != nil {
			t.Fatalf("Manager.Add(%s) error = %v", p.Name, err)
		}
	}

	projects, err := mgr.List(ctx, alpha)
	if err != nil {
		t.Fatalf("Manager.List() error = %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("Manager.List() returned %d projects, want 2", len(projects))
	}

	n, err := mgr.DeleteByCollection(ctx, alpha)
	if err != nil {
		t.Fatalf("Manager.DeleteByCollection() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Manager.DeleteByCollection() removed %d, want 2", n)
	}

	projects, _ = mgr.List(ctx, alpha)
	if len(projects) != 0 {
		t.Errorf("collection still has %d projects after delete", len(projects))
	}
	projects, _ = mgr.List(ctx, beta)
	if len(projects) != 1 {
		t.Errorf("other collection has %d projects, want 1", len(projects))
	}

	if _, err := mgr.List(ctx, uuid.Nil); !errors.Is(err, ErrEmptyCollectionID) {
		t.Errorf("Manager.List() nil collection error = %v", err)
	}
}

func TestTeamCollection_HasProject(t *testing.T) {
	c := TeamCollection{Name: "Default", Projects: []Project{{Name: "Contoso"}}}

	if !c.HasProject("contoso") {
		t.Error("HasProject() should match case-insensitively")
	}
	if c.HasProject("Fabrikam") {
		t.Error("HasProject() matched an absent project")
	}
}

func TestFindCollection(t *testing.T) {
	collections := []TeamCollection{{Name: "Alpha"}, {Name: "Beta"}}

	if got := FindCollection(collections, "BETA"); got == nil || got.Name != "Beta" {
		t.Errorf("FindCollection() = %v, want Beta", got)
	}
	if got := FindCollection(collections, "Gamma"); got != nil {
		t.Errorf("FindCollection() = %v, want nil", got)
	}
}
