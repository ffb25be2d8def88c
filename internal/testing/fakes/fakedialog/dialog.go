// Package fakedialog provides a test fake for ports.StagePicker.
package fakedialog

import "github.com/acolita/de10boot/internal/ports"

// Picker is a controllable fake StagePicker for testing.
type Picker struct {
	// Result is the stage returned by PickStage.
	Result string
	// Err is the error returned by PickStage.
	Err error
	// Called tracks whether PickStage was invoked.
	Called bool
	// Offered captures the stage list passed to PickStage.
	Offered []string
	// Current captures the preselected stage passed to PickStage.
	Current string
}

// New returns a new fake picker.
func New() *Picker {
	return &Picker{}
}

// PickStage returns the pre-configured Result and Err.
func (p *Picker) PickStage(stages []string, current string) (string, error) {
	p.Called = true
	p.Offered = stages
	p.Current = current
	if p.Err != nil {
		return current, p.Err
	}
	return p.Result, nil
}

var _ ports.StagePicker = (*Picker)(nil)
