package ports

// StagePicker asks the operator which boot stage to stop at.
// Implementations may use TUI forms or test fakes.
type StagePicker interface {
	// PickStage offers stages in boot order with current preselected and
	// returns the chosen stage name.
	PickStage(stages []string, current string) (string, error)
}
