// Package realdialog provides a TUI-based StagePicker using charmbracelet/huh.
//
// The form runs on the operator's terminal before the serial console is
// opened, so it never competes with the fallback for /dev/tty.
package realdialog

import (
	"fmt"

	"github.com/acolita/de10boot/internal/ports"
	"github.com/charmbracelet/huh"
)

// Picker implements ports.StagePicker with a huh select form.
type Picker struct {
	// Accessible switches huh to its screen-reader friendly mode.
	Accessible bool
}

// New returns a new TUI stage picker.
func New() *Picker {
	return &Picker{}
}

// PickStage shows the stage list and returns the selected stage.
func (p *Picker) PickStage(stages []string, current string) (string, error) {
	if len(stages) == 0 {
		return "", fmt.Errorf("no stages to pick from")
	}

	choice := current
	if choice == "" {
		choice = stages[len(stages)-1]
	}

	options := make([]huh.Option[string], 0, len(stages))
	for i, s := range stages {
		options = append(options, huh.NewOption(fmt.Sprintf("%d. %s", i+1, s), s))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Stop at stage").
				Description("Automation halts after this stage and hands over the console").
				Options(options...).
				Value(&choice),
		),
	).WithAccessible(p.Accessible)

	if err := form.Run(); err != nil {
		return current, fmt.Errorf("stage picker: %w", err)
	}

	return choice, nil
}

var _ ports.StagePicker = (*Picker)(nil)
