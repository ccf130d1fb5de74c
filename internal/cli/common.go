package cli

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-change/internal/config"
	"github.com/randalmurphal/orc-change/internal/engine"
	orcerrors "github.com/randalmurphal/orc-change/internal/errors"
	"github.com/randalmurphal/orc-change/internal/handler"
	"github.com/randalmurphal/orc-change/internal/layout"
	"github.com/randalmurphal/orc-change/internal/quality"
	"github.com/randalmurphal/orc-change/internal/stage"
)

// ExitCode maps an engine/CLI error to the process exit code of spec.md §6.
// Errors for which errors.CodeOf finds no Code are treated as usage errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code := orcerrors.CodeOf(err); code != "" {
		return code.ExitCode()
	}
	return 2
}

// loadConfig layers viper/env/file defaults and applies the --workers
// override, matching the precedence order of SPEC_FULL.md §4.9.
func loadConfig(cmd *cobra.Command) (*config.EngineConfig, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("workers") {
		workers, _ := cmd.Flags().GetInt("workers")
		cfg.Parallel.Workers = workers
	}
	cfg.NonInteractive = cfg.NonInteractive || noninterFlg
	cfg.Normalize()
	return cfg, nil
}

// buildEngine wires an Engine for changeID: a fresh Stage Registry rooted at
// the change's artifact layout, the four quality-tool adapters, and an
// interactive prompter unless non-interactive mode is in effect.
func buildEngine(cfg *config.EngineConfig, changeID string, interactive bool) *engine.Engine {
	reg := stage.NewRegistry()
	handler.RegisterBuiltins(reg, layout.New(cfg.ChangeDir(changeID)))

	gitAvailable, workingTreeOK := probeGit()

	e := &engine.Engine{
		Config:   cfg,
		Registry: reg,
		Adapters: []quality.ToolAdapter{
			quality.RuffAdapter{},
			quality.MypyAdapter{},
			quality.NewPytestAdapter(),
			quality.BanditAdapter{},
		},
		GitAvailable:  gitAvailable,
		WorkingTreeOK: workingTreeOK,
	}
	if interactive {
		e.Prompt = huhPrompter{}
	}
	return e
}
