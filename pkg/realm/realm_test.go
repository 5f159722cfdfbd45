package realm

import (
	"path/filepath"
	"testing"
)

func TestVisibilityInheritedFromAncestor(t *testing.T) {
	tr := New()
	if err := tr.Create("work", Root); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tr.Create("work/project-x", "work"); err != nil {
		t.Fatalf("create: %v", err)
	}
	tr.SetCurrent(Root)

	if !tr.Visible("work/project-x", Inherited) {
		t.Fatal("root should see an inherited-visibility descendant realm")
	}
}

func TestExplicitVisibilityRequiresExactRealm(t *testing.T) {
	tr := New()
	tr.Create("work", Root)
	tr.SetCurrent(Root)

	if tr.Visible("work", Explicit) {
		t.Fatal("explicit visibility should not be visible from an ancestor realm")
	}
	tr.SetCurrent("work")
	if !tr.Visible("work", Explicit) {
		t.Fatal("explicit visibility should be visible from its own realm")
	}
}

func TestCreateRejectsUnknownParent(t *testing.T) {
	tr := New()
	if err := tr.Create("orphan", "nonexistent"); err == nil {
		t.Fatal("expected error creating realm under unknown parent")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tr := New()
	tr.Create("work", Root)
	tr.Create("work/project-x", "work")

	path := filepath.Join(t.TempDir(), "test.realm_scoping")
	if err := tr.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Exists("work/project-x") {
		t.Fatal("loaded tree missing work/project-x")
	}
	loaded.SetCurrent(Root)
	if !loaded.Visible("work/project-x", Inherited) {
		t.Fatal("loaded tree lost ancestor visibility")
	}
}

func TestLoadMissingFileReturnsRootOnly(t *testing.T) {
	tr, err := Load(filepath.Join(t.TempDir(), "absent.realm_scoping"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !tr.Exists(Root) {
		t.Fatal("expected root realm to exist")
	}
	if tr.Exists("work") {
		t.Fatal("expected no other realms")
	}
}
