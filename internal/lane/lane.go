// Package lane implements the Lane Router (spec.md §4.2): classifying a
// change into the docs/standard/heavy routing lane from its file list and
// caller-supplied hints.
package lane

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/randalmurphal/orc-change/internal/config"
	orcerrors "github.com/randalmurphal/orc-change/internal/errors"
)

// docExtensions are the extensions classified as documentation.
var docExtensions = map[string]bool{".md": true, ".rst": true, ".txt": true}

// codeDirPatterns are conventional source-tree roots; any path under one of
// these is always classified as code, even a .md or .txt file (spec.md
// §4.2 tie-break: "a text file under a code directory defaults to code").
var codeDirPatterns = []string{
	"src/**", "lib/**", "internal/**", "cmd/**", "pkg/**",
	"app/**", "apps/**", "test/**", "tests/**",
}

// Inputs drives lane classification.
type Inputs struct {
	ExplicitLane   *config.Lane
	ChangeID       string
	Files          []string
	BreakingChange bool
	HeavyRequested bool
}

// Result is the router's decision.
type Result struct {
	Lane              config.Lane
	Reason            string
	DetectedCodeFiles []string
	DetectedDocFiles  []string
	Mismatch          bool
}

// ClassificationError is returned when the file list cannot be classified
// (spec.md §4.2).
type ClassificationError struct {
	Cause error
}

func (e *ClassificationError) Error() string { return fmt.Sprintf("classification error: %v", e.Cause) }
func (e *ClassificationError) Unwrap() error { return e.Cause }

// Classify applies the routing rules of spec.md §4.2 in order.
func Classify(in Inputs) (*Result, error) {
	if in.Files == nil {
		return nil, &ClassificationError{Cause: fmt.Errorf("nil file list")}
	}

	var codeFiles, docFiles []string
	for _, f := range in.Files {
		if isCode(f) {
			codeFiles = append(codeFiles, f)
		} else {
			docFiles = append(docFiles, f)
		}
	}

	// Rule 1: explicit lane honored unless contradicted (docs explicitly
	// chosen while code files are present).
	if in.ExplicitLane != nil {
		explicit := *in.ExplicitLane
		contradicted := explicit == config.LaneDocs && len(codeFiles) > 0
		if !contradicted {
			return &Result{
				Lane:              explicit,
				Reason:            "explicit lane",
				DetectedCodeFiles: codeFiles,
				DetectedDocFiles:  docFiles,
			}, nil
		}
		// Rule 4: the explicitly requested docs lane is contradicted by
		// detected code files — report the mismatch against the
		// requested lane rather than silently reclassifying.
		return &Result{
			Lane:              explicit,
			Reason:            fmt.Sprintf("%d code file(s) changed while lane=docs explicitly requested", len(codeFiles)),
			DetectedCodeFiles: codeFiles,
			DetectedDocFiles:  docFiles,
			Mismatch:          true,
		}, nil
	}

	// Rule 3: propose a lane from detected files.
	proposed := config.LaneDocs
	reason := "only documentation files changed"
	if len(codeFiles) > 0 {
		proposed = config.LaneStandard
		reason = fmt.Sprintf("%d code file(s) changed", len(codeFiles))
	}
	if in.HeavyRequested || in.BreakingChange {
		proposed = config.LaneHeavy
		reason = "heavy lane requested or breaking change flagged"
	}

	// Rule 4: docs lane with code files present is a mismatch.
	if proposed == config.LaneDocs && len(codeFiles) > 0 {
		return &Result{
			Lane:              proposed,
			Reason:            reason,
			DetectedCodeFiles: codeFiles,
			DetectedDocFiles:  docFiles,
			Mismatch:          true,
		}, nil
	}

	return &Result{
		Lane:              proposed,
		Reason:            reason,
		DetectedCodeFiles: codeFiles,
		DetectedDocFiles:  docFiles,
	}, nil
}

// AsLaneMismatchError converts a mismatched Result into the error the
// engine surfaces in non-interactive mode (spec.md §4.1, §7).
func (r *Result) AsLaneMismatchError() *orcerrors.LaneMismatchError {
	return &orcerrors.LaneMismatchError{
		ProposedLane:   string(r.Lane),
		CodeFilesFound: len(r.DetectedCodeFiles),
		DetectedFiles:  r.DetectedCodeFiles,
	}
}

// isCode classifies a single path as code (true) or documentation (false)
// per the rules and tie-breaks in spec.md §4.2.
func isCode(path string) bool {
	clean := filepath.ToSlash(path)

	for _, pattern := range codeDirPatterns {
		if ok, _ := doublestar.Match(pattern, clean); ok {
			return true
		}
	}

	ext := strings.ToLower(filepath.Ext(clean))
	if docExtensions[ext] {
		return false
	}

	if ok, _ := doublestar.Match("docs/**", clean); ok {
		// Ambiguous path under docs/ with a non-doc extension: defaults to
		// code (e.g. a shell script committed under docs/).
		return true
	}

	// Unknown extension defaults to code.
	return true
}
