package boot

import (
	"fmt"
	"time"

	"github.com/acolita/de10boot/internal/console"
)

// Interaction is one step of a stage: an optional line to send followed by
// a pattern to wait for.
type Interaction struct {
	// Name identifies the step in logs and errors.
	Name string
	// Send reports whether Line is written before waiting. An empty Line
	// with Send set writes a bare line ending.
	Send bool
	Line string
	// Expect is the prompt that confirms the step.
	Expect console.Pattern
	// Timeout bounds the wait (0 = console default).
	Timeout time.Duration
	// Echo prints the output preceding the prompt once it matches.
	Echo bool
}

// StagePlan is the ordered interaction list of one stage.
type StagePlan struct {
	Stage Stage
	Steps []Interaction
}

// Plan is the full boot table in stage order.
type Plan []StagePlan

// Validate checks that stages are known, strictly increasing, and that
// every interaction waits for something.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("empty plan")
	}
	prev := Stage(-1)
	for _, sp := range p {
		if !sp.Stage.Valid() {
			return fmt.Errorf("invalid stage %d in plan", int(sp.Stage))
		}
		if sp.Stage <= prev {
			return fmt.Errorf("stage %s out of order after %s", sp.Stage, prev)
		}
		prev = sp.Stage
		for i, it := range sp.Steps {
			if it.Expect.IsZero() {
				return fmt.Errorf("stage %s step %d (%s): no prompt to wait for", sp.Stage, i, it.Name)
			}
		}
	}
	return nil
}

// Contains reports whether s is part of the plan.
func (p Plan) Contains(s Stage) bool {
	for _, sp := range p {
		if sp.Stage == s {
			return true
		}
	}
	return false
}

func send(name, line string, expect console.Pattern, timeout time.Duration) Interaction {
	return Interaction{Name: name, Send: true, Line: line, Expect: expect, Timeout: timeout, Echo: true}
}

// BuildPlan computes every command of the boot from b. It runs once,
// before stage 0; the sequencer only replays the literal strings.
func BuildPlan(b Board) Plan {
	part := b.fatPartition()
	fat, ufs := b.loaderDisks()
	cmd := b.CommandTimeout

	var loadImage []Interaction
	if b.BlockDevice == USB {
		loadImage = append(loadImage, send("usb-start", "usb start", UBootPrompt, cmd))
	}
	loadImage = append(loadImage,
		send("fatload-core", fmt.Sprintf("fatload %s 1000 %s", part, b.CoreImage), UBootPrompt, cmd),
		send("fpga-load", "fpga load 0 1000 ${filesize}", UBootPrompt, cmd),
		send("bridge-enable", "bridge enable", UBootPrompt, cmd),
	)

	return Plan{
		{
			Stage: StageInitialBootloader,
			Steps: []Interaction{
				{Name: "autoboot", Expect: AutobootBanner, Timeout: b.AutobootTimeout},
				{Name: "interrupt", Send: true, Expect: UBootPrompt, Timeout: cmd},
			},
		},
		{
			Stage: StageLoadImage,
			Steps: loadImage,
		},
		{
			Stage: StageLoadSecondaryLoader,
			Steps: []Interaction{
				send("fatload-loader", fmt.Sprintf("fatload %s %#x %s", part, b.LoaderAddr, b.Loader), UBootPrompt, cmd),
				send("fatload-dtb", fmt.Sprintf("fatload %s %#x %s", part, b.DeviceTreeAddr, b.DeviceTree), UBootPrompt, cmd),
			},
		},
		{
			Stage: StageLaunchSecondaryLoader,
			Steps: []Interaction{
				send("bootefi", fmt.Sprintf("bootefi %#x %#x", b.LoaderAddr, b.DeviceTreeAddr), LoaderPrompt, cmd),
			},
		},
		{
			Stage: StageLaunchKernel,
			Steps: []Interaction{
				{Name: "load-kernel", Send: true, Line: "load " + fat + b.Kernel, Expect: LoaderPrompt, Timeout: cmd},
				{Name: "set-currdev", Send: true, Line: "set currdev=" + ufs, Expect: LoaderPrompt, Timeout: cmd},
				{Name: "boot", Send: true, Line: "include /boot/lua/loader.lua", Expect: ShellPathPrompt, Timeout: cmd},
				{Name: "default-shell", Send: true, Expect: RootPrompt, Timeout: cmd},
			},
		},
	}
}
