package cli

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// probeGit reports whether the current directory sits inside a git working
// tree and whether that tree is recognized (has at least one commit),
// grounded in the teacher's habit of shelling out to git rather than
// vendoring a VCS library for a single read-only check.
func probeGit() (available, recognized bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree").Run(); err != nil {
		return false, false
	}
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "HEAD").Output()
	if err != nil {
		return true, false
	}
	return true, strings.TrimSpace(string(out)) != ""
}
