// Package boot drives the DE10-Pro console through its boot stages.
//
// A boot is described by a Plan: an ordered table of stages, each an
// ordered list of Interaction values. The Sequencer interprets the table
// against a console; it never computes commands itself.
package boot

import (
	"fmt"
	"strings"
)

// Stage is one named phase of the boot. Stages are totally ordered.
type Stage int

const (
	// StageInitialBootloader interrupts U-Boot autoboot and waits for its shell.
	StageInitialBootloader Stage = iota
	// StageLoadImage loads the FPGA core image from the boot device and enables the bridges.
	StageLoadImage
	// StageLoadSecondaryLoader loads the EFI loader and the device tree into memory.
	StageLoadSecondaryLoader
	// StageLaunchSecondaryLoader starts the EFI loader and waits for its prompt.
	StageLaunchSecondaryLoader
	// StageLaunchKernel loads and boots the kernel to a root shell.
	StageLaunchKernel

	numStages
)

var stageNames = [numStages]string{
	"initial-bootloader",
	"load-image",
	"load-secondary-loader",
	"launch-secondary-loader",
	"launch-kernel",
}

// Legacy step names accepted for -stop-at-stage.
var stageAliases = map[string]Stage{
	"uboot":                 StageInitialBootloader,
	"uboot-load-rbf":        StageLoadImage,
	"uboot-load-bsd-loader": StageLoadSecondaryLoader,
	"bsd-loader":            StageLaunchSecondaryLoader,
	"bsd":                   StageLaunchKernel,
}

// Stages returns every stage in boot order.
func Stages() []Stage {
	out := make([]Stage, numStages)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

// StageNames returns the canonical stage names in boot order.
func StageNames() []string {
	return append([]string(nil), stageNames[:]...)
}

// LastStage is the final stage of a full boot.
func LastStage() Stage {
	return numStages - 1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s >= 0 && s < numStages
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage parses a canonical stage name or one of the legacy step names.
func ParseStage(name string) (Stage, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	if s, ok := stageAliases[name]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("unknown stage %q (want one of %s)", name, strings.Join(stageNames[:], ", "))
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	v, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
