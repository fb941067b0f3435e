package adapter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Category classifies a tool for display grouping.
type Category string

const (
	// CategoryNone means no special display treatment.
	CategoryNone Category = ""

	// CategoryExplore marks read-only exploration tools; consecutive runs are
	// collapsed into one group.
	CategoryExplore Category = "explore"

	// CategoryHidden marks tools never rendered to clients.
	CategoryHidden Category = "hidden"

	// CategoryProgress marks progress-reporting tools accumulated into one
	// running indicator.
	CategoryProgress Category = "progress"

	// CategorySubagent marks tools that spawn nested agents; following calls
	// render as children.
	CategorySubagent Category = "subagent"
)

// Categories maps tool names to display categories.
type Categories map[string]Category

// categoriesFile is the on-disk shape: category name to list of tool names.
type categoriesFile struct {
	Explore  []string `yaml:"explore"`
	Hidden   []string `yaml:"hidden"`
	Progress []string `yaml:"progress"`
	Subagent []string `yaml:"subagent"`
}

// DefaultCategories returns the built-in tool categorization.
func DefaultCategories() Categories {
	return Categories{
		"Read":           CategoryExplore,
		"Grep":           CategoryExplore,
		"Glob":           CategoryExplore,
		"LS":             CategoryExplore,
		"WebSearch":      CategoryExplore,
		"TodoWrite":      CategoryProgress,
		"Task":           CategorySubagent,
		ExitPlanModeTool: CategoryNone,
	}
}

// LoadCategories reads a category declarations file. The file lists tool
// names under category headings; entries extend (and can override) the
// defaults. A missing file returns the defaults.
func LoadCategories(path string) (Categories, error) {
	cats := DefaultCategories()
	if path == "" {
		return cats, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cats, nil
		}
		return nil, fmt.Errorf("read categories file: %w", err)
	}

	var file categoriesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse categories file: %w", err)
	}

	for _, name := range file.Explore {
		cats[name] = CategoryExplore
	}
	for _, name := range file.Hidden {
		cats[name] = CategoryHidden
	}
	for _, name := range file.Progress {
		cats[name] = CategoryProgress
	}
	for _, name := range file.Subagent {
		cats[name] = CategorySubagent
	}

	return cats, nil
}

// Lookup returns the category for a tool name.
func (c Categories) Lookup(toolName string) Category {
	if c == nil {
		return CategoryNone
	}
	return c[toolName]
}
