package adapter

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCategoriesDefaults(t *testing.T) {
	cats, err := LoadCategories("")
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}
	if cats.Lookup("Read") != CategoryExplore {
		t.Errorf("Read = %q, want explore", cats.Lookup("Read"))
	}
	if cats.Lookup("Task") != CategorySubagent {
		t.Errorf("Task = %q, want subagent", cats.Lookup("Task"))
	}
	if cats.Lookup("Bash") != CategoryNone {
		t.Errorf("Bash = %q, want none", cats.Lookup("Bash"))
	}
}

func TestLoadCategoriesMissingFile(t *testing.T) {
	cats, err := LoadCategories(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}
	if cats.Lookup("Grep") != CategoryExplore {
		t.Error("defaults not applied for missing file")
	}
}

func TestLoadCategoriesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.yaml")
	content := "hidden:\n  - SecretTool\n  - Read\nprogress:\n  - StatusUpdate\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cats, err := LoadCategories(path)
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}
	if cats.Lookup("SecretTool") != CategoryHidden {
		t.Errorf("SecretTool = %q, want hidden", cats.Lookup("SecretTool"))
	}
	// File entries override the built-in defaults.
	if cats.Lookup("Read") != CategoryHidden {
		t.Errorf("Read = %q, want hidden (overridden)", cats.Lookup("Read"))
	}
	if cats.Lookup("StatusUpdate") != CategoryProgress {
		t.Errorf("StatusUpdate = %q, want progress", cats.Lookup("StatusUpdate"))
	}
	if cats.Lookup("Glob") != CategoryExplore {
		t.Errorf("Glob = %q, want explore (default kept)", cats.Lookup("Glob"))
	}
}

func TestLoadCategoriesBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.yaml")
	if err := os.WriteFile(path, []byte("hidden: {not a list"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadCategories(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestCategoriesNilLookup(t *testing.T) {
	var cats Categories
	if cats.Lookup("anything") != CategoryNone {
		t.Error("nil categories should return none")
	}
}
