// Package recovery suggests fixes for a failed boot from the text that
// quartus_pgm, the terminal program, the board and the SSH layer printed.
package recovery

import (
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/acolita/de10boot/internal/boot"
	"github.com/acolita/de10boot/internal/console"
	"github.com/acolita/de10boot/internal/program"
)

// Suggestion represents a recovery suggestion for a failure.
type Suggestion struct {
	Problem     string   // Description of the detected problem
	Category    string   // jtag, serial, boot-media, fpga, loader, network, security
	Commands    []string // Commands the operator may run
	Explanation string   // What to check
	Confidence  float64  // Confidence that this suggestion will help
	Risky       bool     // If true, review before running
}

// Analyzer matches failure text against known board and tool errors.
type Analyzer struct {
	rules []recoveryRule
}

type recoveryRule struct {
	name     string
	pattern  *regexp.Regexp
	category string
	suggest  func(matches []string) *Suggestion
}

// NewAnalyzer creates an analyzer with the default rules.
func NewAnalyzer() *Analyzer {
	return &Analyzer{rules: defaultRules()}
}

// Analyze returns suggestions for output, most confident first.
func (a *Analyzer) Analyze(output string) []*Suggestion {
	if output == "" {
		return nil
	}
	var suggestions []*Suggestion
	for _, rule := range a.rules {
		if matches := rule.pattern.FindStringSubmatch(output); matches != nil {
			if s := rule.suggest(matches); s != nil {
				if s.Category == "" {
					s.Category = rule.category
				}
				suggestions = append(suggestions, s)
			}
		}
	}
	sortByConfidence(suggestions)
	return suggestions
}

// Explain analyzes err together with the tool output and console text it
// carries.
func (a *Analyzer) Explain(err error) []*Suggestion {
	if err == nil {
		return nil
	}
	suggestions := a.Analyze(failureText(err))
	if s := silentConsole(err); s != nil {
		suggestions = append(suggestions, s)
		sortByConfidence(suggestions)
	}
	return suggestions
}

func failureText(err error) string {
	parts := []string{err.Error()}

	var pe *program.ProgrammingError
	if errors.As(err, &pe) && pe.Output != "" {
		parts = append(parts, pe.Output)
	}
	var te *console.TimeoutError
	if errors.As(err, &te) && te.Buffered != "" {
		parts = append(parts, te.Buffered)
	}
	var ce *console.ClosedError
	if errors.As(err, &ce) && ce.Buffered != "" {
		parts = append(parts, ce.Buffered)
	}
	return strings.Join(parts, "\n")
}

// silentConsole covers a board that printed nothing after programming.
func silentConsole(err error) *Suggestion {
	var se *boot.StageError
	var te *console.TimeoutError
	if !errors.As(err, &se) || !errors.As(err, &te) {
		return nil
	}
	if se.Stage != boot.StageInitialBootloader || strings.TrimSpace(te.Buffered) != "" {
		return nil
	}
	return &Suggestion{
		Problem:     "No console output after programming",
		Category:    "serial",
		Commands:    []string{"ls -l /dev/serial/by-id/", "dmesg | tail"},
		Explanation: "Nothing arrived on the console. Check that the board is powered and that serial.device is its UART.",
		Confidence:  0.6,
	}
}

func sortByConfidence(suggestions []*Suggestion) {
	slices.SortStableFunc(suggestions, func(a, b *Suggestion) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})
}

func defaultRules() []recoveryRule {
	return []recoveryRule{
		// quartus_pgm cannot see the USB-Blaster
		{
			name:     "jtag_cable",
			pattern:  regexp.MustCompile(`(?i)cable not detected|no (?:JTAG )?hardware|unable to scan device chain|JTAG server`),
			category: "jtag",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "JTAG cable not available",
					Commands:    []string{"jtagconfig", "killall jtagd; jtagconfig"},
					Explanation: "The USB-Blaster was not found or jtagd is stuck. Reconnect the cable and restart the JTAG server.",
					Confidence:  0.85,
				}
			},
		},

		// Wrong device slot
		{
			name:     "jtag_device",
			pattern:  regexp.MustCompile(`(?i)can't recognize silicon ID|device chain .*does not match|invalid device index`),
			category: "jtag",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "Unexpected device on the JTAG chain",
					Commands:    []string{"jtagconfig -n"},
					Explanation: "The device at the programmed slot is not the Stratix 10. Compare programmer.slot with the jtagconfig listing.",
					Confidence:  0.8,
				}
			},
		},

		// quartus_pgm missing from PATH
		{
			name:     "quartus_missing",
			pattern:  regexp.MustCompile(`(?i)quartus_pgm.*(?:executable file not found|not found)`),
			category: "toolchain",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "quartus_pgm not installed",
					Commands:    []string{"export PATH=$PATH:$QUARTUS_ROOTDIR/bin"},
					Explanation: "The Quartus programmer is not on PATH. Add its bin directory or set programmer.tool.",
					Confidence:  0.9,
				}
			},
		},

		// Programming file unreadable
		{
			name:     "programming_file",
			pattern:  regexp.MustCompile(`(?i)(?:can't|cannot) (?:open|read) (?:programming )?file\s*'?([^'\s]*)`),
			category: "image",
			suggest: func(matches []string) *Suggestion {
				return &Suggestion{
					Problem:     "Programming file unreadable" + ifNotEmpty(matches[1], ": "+matches[1]),
					Commands:    []string{"ls -l " + orPlaceholder(matches[1], "<hps image>")},
					Explanation: "quartus_pgm could not read the image. In remote mode the path is on the lab host.",
					Confidence:  0.8,
				}
			},
		},

		// Serial device permission
		{
			name:     "serial_permission",
			pattern:  regexp.MustCompile(`(?i)(/dev/\S+?):?\s.*permission denied`),
			category: "serial",
			suggest: func(matches []string) *Suggestion {
				return &Suggestion{
					Problem:     "No access to " + matches[1],
					Commands:    []string{"ls -l " + matches[1], "sudo usermod -aG dialout $USER"},
					Explanation: "The serial device belongs to a group this user is not in. Join the group and log in again.",
					Confidence:  0.9,
					Risky:       true,
				}
			},
		},

		// Serial device held by another program
		{
			name:     "serial_busy",
			pattern:  regexp.MustCompile(`(?i)device or resource busy|is locked|cannot lock`),
			category: "serial",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "Serial device in use",
					Commands:    []string{"fuser -v /dev/ttyUSB*", "ls /var/lock/LCK..*"},
					Explanation: "Another terminal program holds the console. Close it before booting.",
					Confidence:  0.85,
				}
			},
		},

		// Serial adapter missing
		{
			name:     "serial_missing",
			pattern:  regexp.MustCompile(`(?i)(/dev/tty\S+?):?\s*no such file or directory`),
			category: "serial",
			suggest: func(matches []string) *Suggestion {
				return &Suggestion{
					Problem:     matches[1] + " does not exist",
					Commands:    []string{"ls /dev/ttyUSB* /dev/ttyACM*", "dmesg | tail"},
					Explanation: "The USB serial adapter is not present. Check the cable or set serial.wait_for_device.",
					Confidence:  0.85,
				}
			},
		},

		// U-Boot could not find a file on the FAT partition
		{
			name:     "uboot_file",
			pattern:  regexp.MustCompile(`\*\* Unable to read file ([^\s*]+)`),
			category: "boot-media",
			suggest: func(matches []string) *Suggestion {
				return &Suggestion{
					Problem:     "U-Boot cannot read " + matches[1],
					Commands:    []string{"fatls mmc 0:1", "fatls usb 0:1"},
					Explanation: "The file is missing from the first FAT partition. Check the name and -boot-block-device.",
					Confidence:  0.9,
				}
			},
		},

		// No SD card
		{
			name:     "uboot_mmc",
			pattern:  regexp.MustCompile(`(?i)no card present|card did not respond|no mmc device available`),
			category: "boot-media",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "U-Boot sees no SD card",
					Commands:    []string{"mmc rescan", "mmc list"},
					Explanation: "Reseat the SD card or boot from USB with -boot-block-device usb.",
					Confidence:  0.85,
				}
			},
		},

		// No USB stick
		{
			name:     "uboot_usb",
			pattern:  regexp.MustCompile(`(?i)no (?:usb )?storage devices?|usb is stopped`),
			category: "boot-media",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "U-Boot sees no USB storage",
					Commands:    []string{"usb reset", "usb storage"},
					Explanation: "The USB stick was not enumerated. Try another port or a smaller stick.",
					Confidence:  0.8,
				}
			},
		},

		// Core image rejected
		{
			name:     "fpga_config",
			pattern:  regexp.MustCompile(`(?i)FPGA reconfiguration failed|fpga.*(?:load|config).*fail|Command failed, result=`),
			category: "fpga",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "Core image did not configure the FPGA",
					Explanation: "The core.rbf must come from the same Quartus build as the HPS image. Rebuild both and copy core.rbf again.",
					Confidence:  0.75,
				}
			},
		},

		// CPU fault after go/bootefi
		{
			name:     "cpu_abort",
			pattern:  regexp.MustCompile(`(?i)synchronous abort|"error" handler`),
			category: "boot",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "CPU fault in the loaded image",
					Commands:    []string{"bdinfo"},
					Explanation: "The loader or device tree landed on memory U-Boot uses. Check loader_address and device_tree_address.",
					Confidence:  0.7,
				}
			},
		},

		// FreeBSD loader cannot find the kernel
		{
			name:     "loader_kernel",
			pattern:  regexp.MustCompile(`(?i)can't (?:load|find) '([^']+)'`),
			category: "loader",
			suggest: func(matches []string) *Suggestion {
				return &Suggestion{
					Problem:     "Loader cannot find " + matches[1],
					Commands:    []string{"lsdev", "ls /boot"},
					Explanation: "The kernel is not on the UFS partition the loader chose. Check -kernel and the partition layout.",
					Confidence:  0.85,
				}
			},
		},

		// Lab host refused the connection
		{
			name:     "ssh_refused",
			pattern:  regexp.MustCompile(`(?i)connection refused`),
			category: "network",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "Connection refused",
					Commands:    []string{"nc -vz <lab host> 22"},
					Explanation: "The lab host is not accepting SSH. Check remote.host and remote.port.",
					Confidence:  0.7,
				}
			},
		},

		// Host key changed
		{
			name:     "ssh_host_key_changed",
			pattern:  regexp.MustCompile(`(?i)knownhosts: key mismatch|REMOTE HOST IDENTIFICATION HAS CHANGED`),
			category: "security",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "Lab host key has changed",
					Commands:    []string{"ssh-keygen -R <lab host>"},
					Explanation: "The lab host presented a different key. Only remove the old key if the host was reinstalled.",
					Confidence:  0.8,
					Risky:       true,
				}
			},
		},

		// Host key unknown
		{
			name:     "ssh_host_key_unknown",
			pattern:  regexp.MustCompile(`(?i)knownhosts: key is unknown`),
			category: "security",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "Lab host key unknown",
					Commands:    []string{"ssh <lab host> true"},
					Explanation: "The lab host is not in known_hosts. Connect once with ssh to verify and record its key.",
					Confidence:  0.8,
				}
			},
		},

		// Authentication
		{
			name:     "ssh_auth",
			pattern:  regexp.MustCompile(`(?i)unable to authenticate|no supported methods remain`),
			category: "security",
			suggest: func(_ []string) *Suggestion {
				return &Suggestion{
					Problem:     "Lab host rejected the credentials",
					Commands:    []string{"ssh-add -l", "de10boot -remote <lab host> -set-lab-password"},
					Explanation: "No key or password was accepted. Load a key into the agent or store the password in the keyring.",
					Confidence:  0.8,
				}
			},
		},
	}
}

func ifNotEmpty(s, v string) string {
	if s != "" {
		return v
	}
	return ""
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}
