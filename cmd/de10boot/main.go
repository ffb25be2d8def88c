// de10boot programs a DE10-Pro FPGA and boots FreeBSD on its HPS through
// the serial console, then hands the console to the operator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/acolita/de10boot/internal/adapters/realdialog"
	"github.com/acolita/de10boot/internal/adapters/realfs"
	"github.com/acolita/de10boot/internal/boot"
	"github.com/acolita/de10boot/internal/config"
	"github.com/acolita/de10boot/internal/console"
	"github.com/acolita/de10boot/internal/fallback"
	"github.com/acolita/de10boot/internal/logging"
	"github.com/acolita/de10boot/internal/ports"
	"github.com/acolita/de10boot/internal/recovery"
	"github.com/acolita/de10boot/internal/security"
	"github.com/acolita/de10boot/internal/session"
)

// Version information - set at build time.
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type options struct {
	configPath     string
	hpsImage       string
	coreImage      string
	blockDevice    string
	loader         string
	kernel         string
	deviceTree     string
	serial         string
	baud           int
	timeout        time.Duration
	verbosity      int
	stopAt         string
	record         string
	remote         string
	pickStage      bool
	printConfig    bool
	setLabPassword bool
	showVersion    bool

	set map[string]bool // Flags given on the command line
}

func newFlagSet(o *options, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("de10boot", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&o.configPath, "config", "", "Path to configuration file (default: $XDG_CONFIG_HOME/de10boot/config.yaml)")
	fs.StringVar(&o.hpsImage, "hps-image", config.DefaultHPSImage, "HPS image to program with quartus_pgm (** globs allowed)")
	fs.StringVar(&o.coreImage, "core-image", boot.DefaultCoreImage, "Core image name on the boot device")
	fs.StringVar(&o.blockDevice, "boot-block-device", "mmc", "Boot device holding the images: mmc or usb")
	fs.StringVar(&o.loader, "secondary-loader", boot.DefaultLoader, "EFI loader name on the boot device")
	fs.StringVar(&o.kernel, "kernel", boot.DefaultKernel, "Kernel name on the boot device")
	fs.StringVar(&o.deviceTree, "device-tree", boot.DefaultDeviceTree, "Device tree name on the boot device")
	fs.StringVar(&o.serial, "serial", "", "Serial device of the board console")
	fs.IntVar(&o.baud, "baud", 0, "Serial line speed")
	fs.DurationVar(&o.timeout, "timeout", 0, "Timeout for each console prompt")
	fs.IntVar(&o.verbosity, "verbosity", 1, "Verbosity level")
	fs.IntVar(&o.verbosity, "v", 1, "Shorthand for -verbosity")
	fs.StringVar(&o.stopAt, "stop-at-stage", "", "Stage to stop at: "+strings.Join(boot.StageNames(), ", "))
	fs.StringVar(&o.record, "record", "", "Directory to record a console transcript in")
	fs.StringVar(&o.remote, "remote", "", "Lab host owning the board, as [user@]host[:port]")
	fs.BoolVar(&o.pickStage, "pick-stage", false, "Choose the stop stage interactively")
	fs.BoolVar(&o.printConfig, "print-config", false, "Print the effective configuration and exit")
	fs.BoolVar(&o.setLabPassword, "set-lab-password", false, "Store the lab host SSH password in the keyring and exit")
	fs.BoolVar(&o.showVersion, "version", false, "Show version information")
	return fs
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	o := &options{}
	fs := newFlagSet(o, output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	if o.set["v"] {
		o.set["verbosity"] = true
	}
	return o, nil
}

// applyFlags overrides cfg with the flags that were given explicitly.
func applyFlags(cfg *config.Config, o *options) error {
	if o.set["hps-image"] {
		cfg.Board.HPSImage = o.hpsImage
	}
	if o.set["core-image"] {
		cfg.Board.CoreImage = o.coreImage
	}
	if o.set["boot-block-device"] {
		dev, err := boot.ParseBlockDevice(o.blockDevice)
		if err != nil {
			return err
		}
		cfg.Board.BlockDevice = dev
	}
	if o.set["secondary-loader"] {
		cfg.Board.SecondaryLoader = o.loader
	}
	if o.set["kernel"] {
		cfg.Board.Kernel = o.kernel
	}
	if o.set["device-tree"] {
		cfg.Board.DeviceTree = o.deviceTree
	}
	if o.set["stop-at-stage"] {
		stage, err := boot.ParseStage(o.stopAt)
		if err != nil {
			return err
		}
		cfg.Board.StopAt = stage
	}
	if o.set["serial"] {
		cfg.Serial.Device = o.serial
	}
	if o.set["baud"] {
		cfg.Serial.Baud = o.baud
	}
	if o.set["timeout"] {
		cfg.Timeouts.Default = o.timeout
	}
	if o.set["record"] {
		cfg.Recording.Enabled = o.record != ""
		cfg.Recording.Path = o.record
	}
	if o.set["remote"] {
		user, host, port, err := parseRemote(o.remote)
		if err != nil {
			return err
		}
		cfg.Remote.Host = host
		if user != "" {
			cfg.Remote.User = user
		}
		if port != 0 {
			cfg.Remote.Port = port
		}
	}
	// An explicit -verbosity wins over the file; an unset level follows the
	// flag default.
	if o.set["verbosity"] || cfg.Logging.Level == "" {
		cfg.Logging.Level = logging.LevelForVerbosity(o.verbosity)
	}
	return nil
}

// parseRemote splits [user@]host[:port].
func parseRemote(s string) (user, host string, port int, err error) {
	if s == "" {
		return "", "", 0, nil
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		user, s = s[:i], s[i+1:]
	}
	host = s
	if i := strings.LastIndex(s, ":"); i >= 0 && !strings.Contains(s[:i], ":") {
		host = s[:i]
		port, err = strconv.Atoi(s[i+1:])
		if err != nil || port <= 0 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid port in %q", s)
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("missing host in remote %q", s)
	}
	return user, host, port, nil
}

// loadConfig reads -config, or the default path when it is not given.
func loadConfig(path string, fsys ports.FileSystem) (*config.Config, error) {
	if path != "" {
		return config.Load(path, fsys)
	}
	cfg, _, err := config.LoadDefault(fsys)
	return cfg, err
}

// pickStage lets the operator choose the stop stage.
func pickStage(cfg *config.Config, picker ports.StagePicker) error {
	name, err := picker.PickStage(boot.StageNames(), cfg.Board.StopAt.String())
	if err != nil {
		return err
	}
	stage, err := boot.ParseStage(name)
	if err != nil {
		return err
	}
	cfg.Board.StopAt = stage
	return nil
}

// storeLabPassword prompts for the lab host password without echo and
// saves it in the keyring.
func storeLabPassword(cfg *config.Config, stdin *os.File, stdout io.Writer) error {
	if cfg.Remote.Host == "" || cfg.Remote.User == "" {
		return errors.New("-set-lab-password needs remote.host and remote.user")
	}
	store := security.NewKeyringStore(slog.Default())
	if !store.IsEnabled() {
		return security.ErrUnavailable
	}

	fmt.Fprintf(stdout, "Password for %s@%s: ", cfg.Remote.User, cfg.Remote.Host)
	pw, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(stdout)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer security.Wipe(pw)

	if err := store.StoreLabPassword(cfg.Remote.Host, cfg.Remote.User, pw); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Stored in keyring service %q\n", security.KeyringService)
	return nil
}

// report prints err for the operator, with the console output that was
// pending when a prompt never came and any known remedies.
func report(w io.Writer, err error) {
	fmt.Fprintf(w, "de10boot: %v\n", err)

	var te *console.TimeoutError
	var ce *console.ClosedError
	var buffered string
	switch {
	case errors.As(err, &te):
		buffered = te.Buffered
	case errors.As(err, &ce):
		buffered = ce.Buffered
	}
	if buffered != "" {
		fmt.Fprintf(w, "console output since the last prompt:\n%s\n", buffered)
	}

	for _, s := range recovery.NewAnalyzer().Explain(err) {
		fmt.Fprintf(w, "hint: %s\n  %s\n", s.Problem, s.Explanation)
		for _, c := range s.Commands {
			fmt.Fprintf(w, "  try: %s\n", c)
		}
	}
}

func run(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "de10boot: %v\n", err)
		return exitUsage
	}

	if o.showVersion {
		fmt.Fprintf(stdout, "de10boot version %s\n", Version)
		fmt.Fprintf(stdout, "  Build time: %s\n", BuildTime)
		fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
		return exitOK
	}

	fsys := realfs.New()
	cfg, err := loadConfig(o.configPath, fsys)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitError
	}
	if err := applyFlags(cfg, o); err != nil {
		fmt.Fprintf(stderr, "de10boot: %v\n", err)
		return exitUsage
	}

	logger, err := logging.Setup(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Sanitize: cfg.Logging.Sanitize,
		Output:   stderr,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return exitError
	}

	if o.printConfig {
		data, err := cfg.Marshal()
		if err != nil {
			report(stderr, err)
			return exitError
		}
		stdout.Write(data)
		return exitOK
	}
	if o.setLabPassword {
		if err := storeLabPassword(cfg, stdin, stdout); err != nil {
			report(stderr, err)
			return exitError
		}
		return exitOK
	}
	if o.pickStage {
		if err := pickStage(cfg, realdialog.New()); err != nil {
			report(stderr, err)
			return exitError
		}
	}

	logger.Info("starting de10boot", slog.String("version", Version))

	var secrets session.SecretStore
	if cfg.Remote.Host != "" && cfg.Remote.UseKeyring {
		secrets = security.NewKeyringStore(logger)
	}
	resolver := &session.Resolver{FS: fsys, Secrets: secrets, Verbosity: o.verbosity, Logger: logger}
	params, err := resolver.Resolve(ctx, cfg)
	if err != nil {
		report(stderr, err)
		return exitError
	}

	s := &session.Session{
		Params:   params,
		Terminal: fallback.Terminal{In: stdin, Out: stdout, Fd: int(stdin.Fd())},
		Stdout:   stdout,
		Stderr:   stderr,
		FS:       fsys,
		Logger:   logger,
	}
	if o.verbosity >= 3 {
		s.ConsoleLog = stderr
	}
	if err := s.Run(ctx); err != nil {
		report(stderr, err)
		return exitError
	}
	return exitOK
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
