package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/randalmurphal/orc-change/internal/config"
)

// huhPrompter implements engine.Prompter with huh forms (SPEC_FULL.md §4.9,
// grounded in the wizard pattern of the pack's review-orchestrator CLI).
type huhPrompter struct{}

func (huhPrompter) ConfirmResume(changeID string) (bool, error) {
	var resume bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Change %q has an incomplete prior run", changeID)).
				Affirmative("Resume").
				Negative("Start fresh").
				Value(&resume),
		),
	).WithTheme(huh.ThemeCharm())
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return resume, nil
}

func (huhPrompter) ConfirmLaneSwitch(proposed config.Lane, codeFiles []string) (bool, error) {
	var proceed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%d code file(s) changed under lane=docs — switch to %q?", len(codeFiles), proposed)).
				Affirmative("Switch lane").
				Negative("Keep docs lane").
				Value(&proceed),
		),
	).WithTheme(huh.ThemeCharm())
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return proceed, nil
}
