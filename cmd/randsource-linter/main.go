// Command randsource-linter fails when math/rand is imported outside
// pkg/securerandom.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prepolicy/prepolicy/pkg/linter/randsource"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, time.Now()))
}

func run(args []string, stdout, stderr io.Writer, now time.Time) int {
	fs := flag.NewFlagSet("randsource-linter", flag.ContinueOnError)
	fs.SetOutput(stderr)
	rootDir := fs.String("dir", ".", "Root directory to scan")
	outputFormat := fs.String("format", "text", "Output format (text, json)")
	configFile := fs.String("config", "", "Path to a YAML linter configuration")
	silentMode := fs.Bool("silent", false, "Only output if issues are found")
	exitWithCode := fs.Bool("exit-code", true, "Exit with non-zero code if issues found")
	printTemplate := fs.Bool("print-config-template", false, "Print a configuration template and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *printTemplate {
		return printConfigTemplate(stdout, stderr)
	}

	cfg := randsource.NewDefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = randsource.LoadConfig(*configFile); err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 1
		}
	}

	absRootDir, err := filepath.Abs(*rootDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error resolving path: %v\n", err)
		return 1
	}
	if !*silentMode {
		fmt.Fprintf(stdout, "Scanning directory: %s\n", absRootDir)
	}

	issues, err := randsource.LintProject(absRootDir, cfg, now)
	if err != nil {
		fmt.Fprintf(stderr, "Error during linting: %v\n", err)
		return 1
	}

	if len(issues) == 0 {
		if !*silentMode {
			fmt.Fprintln(stdout, "No issues found.")
		}
		return 0
	}

	if *outputFormat == "json" {
		if err := outputJSON(stdout, issues); err != nil {
			fmt.Fprintf(stderr, "Error marshaling to JSON: %v\n", err)
			return 1
		}
	} else {
		outputText(stdout, absRootDir, issues)
	}
	if *exitWithCode {
		return 1
	}
	return 0
}

func outputText(w io.Writer, root string, issues []randsource.Issue) {
	fmt.Fprintf(w, "Found %d issues:\n\n", len(issues))
	for i, issue := range issues {
		rel, err := filepath.Rel(root, issue.File)
		if err != nil {
			rel = issue.File
		}
		fmt.Fprintf(w, "%d) %s:%d:%d: %s\n", i+1, rel, issue.Line, issue.Column, issue.Message)
	}
	fmt.Fprintln(w, "\nFragment sampling must draw from a securerandom.Source.")
}

func outputJSON(w io.Writer, issues []randsource.Issue) error {
	out := struct {
		Issues []randsource.Issue `json:"issues"`
		Total  int                `json:"total_issues"`
		Text   string             `json:"summary"`
	}{
		Issues: issues,
		Total:  len(issues),
		Text:   "math/rand imported outside pkg/securerandom",
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printConfigTemplate(stdout, stderr io.Writer) int {
	cfg := randsource.NewDefaultConfig()
	cfg.Exemptions = []randsource.Exemption{
		{Path: "path/to/file.go", Reason: "Reason for exemption"},
		{Path: "some/other/file.go", Reason: "Another reason", ExpiryDate: "2027-01-31"},
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating template: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, string(data))
	return 0
}
