// Package randsource finds imports of math/rand outside the packages allowed
// to use it. Fragment sampling must draw from pkg/securerandom, which is the
// only place a seeded generator may live.
package randsource

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Issue is one offending import.
type Issue struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

// Exemption allows math/rand in one file until an optional expiry date.
type Exemption struct {
	Path       string `yaml:"path" json:"path"`
	Reason     string `yaml:"reason" json:"reason"`
	ExpiryDate string `yaml:"expiry_date,omitempty" json:"expiry_date,omitempty"` // YYYY-MM-DD
}

// Config controls what is scanned.
type Config struct {
	// AllowedDirectories are slash-separated paths, relative to the root,
	// whose files may import math/rand.
	AllowedDirectories []string    `yaml:"allowed_directories"`
	Exemptions         []Exemption `yaml:"exemptions"`
	// StrictMode turns expired exemptions into issues.
	StrictMode bool `yaml:"strict_mode"`
}

// NewDefaultConfig allows math/rand only in pkg/securerandom.
func NewDefaultConfig() *Config {
	return &Config{
		AllowedDirectories: []string{"pkg/securerandom"},
		StrictMode:         true,
	}
}

// LoadConfig reads a YAML linter configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read linter config '%s': %w", path, err)
	}
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse linter config '%s': %w", path, err)
	}
	for _, e := range cfg.Exemptions {
		if e.ExpiryDate == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, e.ExpiryDate); err != nil {
			return nil, fmt.Errorf("exemption for %s has invalid expiry date '%s': %w", e.Path, e.ExpiryDate, err)
		}
	}
	return cfg, nil
}

// skipDir reports directories the go tool itself ignores.
func skipDir(name string) bool {
	return name != "." && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "testdata" || name == "vendor")
}

// LintProject walks rootDir and lints every Go file not covered by cfg.
func LintProject(rootDir string, cfg *Config, now time.Time) ([]Issue, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	var issues []Issue
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != rootDir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			for _, dir := range cfg.AllowedDirectories {
				if rel == strings.Trim(dir, "/") {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}

		for _, e := range cfg.Exemptions {
			if rel != e.Path {
				continue
			}
			if expired(e, now) {
				if cfg.StrictMode {
					issues = append(issues, Issue{
						File:    path,
						Line:    1,
						Column:  1,
						Message: fmt.Sprintf("exemption expired on %s (%s)", e.ExpiryDate, e.Reason),
					})
					break
				}
			}
			return nil
		}

		fileIssues, err := LintFile(path)
		if err != nil {
			return fmt.Errorf("error linting file %s: %w", path, err)
		}
		issues = append(issues, fileIssues...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking directory: %w", err)
	}
	return issues, nil
}

func expired(e Exemption, now time.Time) bool {
	if e.ExpiryDate == "" {
		return false
	}
	t, err := time.Parse(time.DateOnly, e.ExpiryDate)
	if err != nil {
		return true
	}
	return now.After(t.Add(24 * time.Hour))
}

// LintFile reports every math/rand import in filePath.
func LintFile(filePath string) ([]Issue, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, filePath, nil, parser.ImportsOnly)
	if err != nil {
		return nil, fmt.Errorf("error parsing file: %w", err)
	}

	var issues []Issue
	for _, imp := range node.Imports {
		importPath, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if importPath != "math/rand" && !strings.HasPrefix(importPath, "math/rand/") {
			continue
		}

		msg := fmt.Sprintf("import of %s is prohibited outside pkg/securerandom; use securerandom.Source", importPath)
		if imp.Name != nil {
			switch imp.Name.Name {
			case ".":
				msg = fmt.Sprintf("dot import of %s is prohibited; it puts a predictable generator in scope", importPath)
			case "_":
			default:
				msg = fmt.Sprintf("import of %s as '%s' is prohibited outside pkg/securerandom; use securerandom.Source", importPath, imp.Name.Name)
			}
		}
		pos := fset.Position(imp.Pos())
		issues = append(issues, Issue{
			File:    filePath,
			Line:    pos.Line,
			Column:  pos.Column,
			Message: msg,
		})
	}
	return issues, nil
}
