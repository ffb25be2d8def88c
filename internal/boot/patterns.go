package boot

import "github.com/acolita/de10boot/internal/console"

// Console prompts seen during a DE10-Pro boot.
var (
	AutobootBanner = console.Literal("Hit any key to stop autoboot:")

	// UBootPrompt matches any line ending in " #". It is coarse: boot log
	// text containing " #" satisfies it too.
	UBootPrompt = console.MustRegexp(`.* #`)

	LoaderPrompt = console.Literal("OK ")

	ShellPathPrompt = console.Literal("Enter full pathname of shell or RETURN for /bin/sh:")

	RootPrompt = console.Literal("root@:/ #")
)
