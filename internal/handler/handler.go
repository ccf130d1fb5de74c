// Package handler provides the built-in stage handlers (spec.md §6
// expansion): a minimal, deterministic implementation of the stage
// contract for each of the 13 stages so the engine is runnable end-to-end
// without an external document renderer wired in. A real deployment swaps
// these for the markdown-template-rendering collaborator named in spec.md
// §1 via the same stage.Handler interface.
package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/orc-change/internal/layout"
	"github.com/randalmurphal/orc-change/internal/stage"
)

// ArtifactWriter is the subset of layout.Layout the built-in handlers need.
type ArtifactWriter interface {
	PutArtifact(relPath string, data []byte) (layout.ArtifactRef, error)
}

// Builtin is a deterministic, marker-file stage handler.
type Builtin struct {
	index       int
	name        string
	timeout     time.Duration
	outputFile  string
	inputs      []string
	independent bool
	writer      ArtifactWriter
}

// New constructs the built-in handler for stage index using writer to
// commit its single marker-file output.
func New(index int, writer ArtifactWriter, inputs []string, independent bool) *Builtin {
	return &Builtin{
		index:       index,
		name:        stage.Names[index],
		timeout:     stage.DefaultTimeouts[index],
		outputFile:  fmt.Sprintf("%02d-%s.md", index, stage.Names[index]),
		inputs:      inputs,
		independent: independent,
		writer:      writer,
	}
}

// Describe implements stage.Handler.
func (b *Builtin) Describe() stage.Metadata {
	return stage.Metadata{
		Index:   b.index,
		Name:    b.name,
		Timeout: b.timeout,
		Inputs:  b.inputs,
		Outputs: []string{b.outputFile},
	}
}

// IsIndependent implements stage.Handler.
func (b *Builtin) IsIndependent() bool { return b.independent }

// Execute implements stage.Handler. It honors ctx.dry_run by not writing
// artifacts (spec.md §4.1 edge case b) and observes the supplied deadline
// by checking ctx.Done() before writing.
func (b *Builtin) Execute(ctx context.Context, sctx stage.Context) (*stage.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Stage %d: %s\n\n", b.index, b.name)
	fmt.Fprintf(&sb, "- change_id: %s\n", sctx.ChangeID)
	fmt.Fprintf(&sb, "- lane: %s\n", sctx.Lane)
	if sctx.ReleaseType != "" {
		fmt.Fprintf(&sb, "- release_type: %s\n", sctx.ReleaseType)
	}
	fmt.Fprintf(&sb, "- dry_run: %v\n", sctx.DryRun)
	fmt.Fprintf(&sb, "- status: complete\n")

	if sctx.DryRun {
		return &stage.Result{
			Status:     stage.StatusOK,
			Outputs:    nil,
			LogExcerpt: "[DRY RUN] " + b.outputFile + " not written",
		}, nil
	}

	if _, err := b.writer.PutArtifact(b.outputFile, []byte(sb.String())); err != nil {
		return &stage.Result{Status: stage.StatusFailed, Error: err}, err
	}

	return &stage.Result{
		Status:  stage.StatusOK,
		Outputs: []string{b.outputFile},
	}, nil
}

// RegisterBuiltins installs a Builtin handler at every index of reg using
// writer, marking stages 2..6 independent by default (spec.md scenario 5:
// "parallel group {2,3,4,5,6} all independent") since their declared
// outputs never overlap.
func RegisterBuiltins(reg *stage.Registry, writer ArtifactWriter) {
	for idx := 0; idx < stage.Count; idx++ {
		independent := stage.InParallelWindow(idx)
		reg.Register(New(idx, writer, nil, independent))
	}
}
