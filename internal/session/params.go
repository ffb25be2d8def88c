// Package session resolves boot parameters and runs one boot session:
// program the FPGA, open the console, step through the boot stages and
// hand the console to the operator.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/acolita/de10boot/internal/adapters/realfs"
	"github.com/acolita/de10boot/internal/boot"
	"github.com/acolita/de10boot/internal/config"
	"github.com/acolita/de10boot/internal/ports"
	"github.com/acolita/de10boot/internal/program"
	"github.com/acolita/de10boot/internal/pty"
	"github.com/acolita/de10boot/internal/security"
)

// Params is everything a session needs, resolved once before the FPGA is
// programmed and never modified afterward.
type Params struct {
	Board     boot.Board
	HPSImage  string // Absolute path, on the lab host in remote mode unless Remote.UploadDir is set
	StopAt    boot.Stage
	Verbosity int

	Programmer ProgrammerParams
	Terminal   pty.Terminal

	// DefaultTimeout bounds console waits that set no timeout of their own.
	DefaultTimeout time.Duration

	// RecordDir receives a transcript when non-empty.
	RecordDir string

	// Remote is set when the board hangs off a lab host.
	Remote *RemoteParams
}

// ProgrammerParams configures quartus_pgm.
type ProgrammerParams struct {
	Tool             string // Resolved path, or the bare name in remote mode
	Mode             string
	Cable            string
	Slot             int
	IgnoreExitStatus bool
}

// RemoteParams locates and authenticates against the lab host.
type RemoteParams struct {
	Host            string
	Port            int
	User            string
	KeyPath         string
	KeyPassphrase   string
	Password        string
	KnownHosts      string
	InsecureHostKey bool
	UseAgent        bool

	// UploadDir receives the local HPS image before programming.
	UploadDir string
}

// LogValue keeps secrets out of logs even without the sanitizing handler.
func (r *RemoteParams) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", r.Host),
		slog.Int("port", r.Port),
		slog.String("user", r.User),
		slog.String("key_path", r.KeyPath),
		slog.Bool("password_set", r.Password != ""),
		slog.String("upload_dir", r.UploadDir),
	)
}

// ResolutionError reports a setting that could not be resolved. Nothing
// has touched the board when it is returned.
type ResolutionError struct {
	Field string
	Value string
	Err   error
}

func (e *ResolutionError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("resolve %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("resolve %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// SecretStore looks up stored lab host credentials.
type SecretStore interface {
	LabPassword(host, user string) ([]byte, error)
	KeyPassphrase(keyPath string) ([]byte, error)
}

// WaitFunc blocks until path exists in fsys, the timeout elapses or ctx
// is done.
type WaitFunc func(ctx context.Context, fsys ports.FileSystem, path string, timeout time.Duration) error

// Resolver turns a configuration into Params.
type Resolver struct {
	FS        ports.FileSystem // Default: realfs
	Secrets   SecretStore      // Optional keyring for remote credentials
	Wait      WaitFunc         // Default: WaitForFile
	Verbosity int
	Logger    *slog.Logger
}

// Resolve validates cfg and resolves every path and executable it names.
// Any failure is a *ResolutionError. In remote mode paths and programs
// belong to the lab host and are not checked locally, except an image
// that is uploaded from this machine.
func (r *Resolver) Resolve(ctx context.Context, cfg *config.Config) (*Params, error) {
	fsys := r.FS
	if fsys == nil {
		fsys = realfs.New()
	}
	logger := r.logger()

	if err := cfg.Validate(); err != nil {
		return nil, &ResolutionError{Field: "config", Err: err}
	}

	p := &Params{
		Board:          cfg.BoardSettings(),
		StopAt:         cfg.Board.StopAt,
		Verbosity:      r.Verbosity,
		DefaultTimeout: cfg.Timeouts.Default,
		Programmer: ProgrammerParams{
			Tool:             cfg.Programmer.Tool,
			Mode:             cfg.Programmer.Mode,
			Cable:            cfg.Programmer.Cable,
			Slot:             cfg.Programmer.Slot,
			IgnoreExitStatus: cfg.Programmer.IgnoreExitStatus,
		},
		Terminal: pty.Terminal{
			Program: cfg.Serial.Terminal,
			Device:  cfg.Serial.Device,
			Baud:    cfg.Serial.Baud,
		},
	}
	if p.Programmer.Tool == "" {
		p.Programmer.Tool = program.DefaultTool
	}
	if p.Terminal.Program == "" {
		p.Terminal.Program = pty.DefaultProgram
	}
	if p.Terminal.Device == "" {
		p.Terminal.Device = pty.DefaultDevice
	}

	if cfg.Board.HPSImage == "" {
		return nil, &ResolutionError{Field: "hps image", Err: errors.New("no image given")}
	}

	if cfg.Remote.Host != "" {
		remote, err := r.resolveRemote(fsys, cfg.Remote)
		if err != nil {
			return nil, err
		}
		p.Remote = remote
		p.HPSImage = cfg.Board.HPSImage
		if remote.UploadDir != "" {
			image, err := resolveImage(fsys, cfg.Board.HPSImage)
			if err != nil {
				return nil, &ResolutionError{Field: "hps image", Value: cfg.Board.HPSImage, Err: err}
			}
			p.HPSImage = image
		}
	} else {
		if err := r.resolveLocal(ctx, fsys, cfg, p); err != nil {
			return nil, err
		}
	}

	if cfg.Recording.Enabled {
		p.RecordDir = cfg.Recording.Path
		if p.RecordDir == "" {
			p.RecordDir = config.DefaultRecordingDir(fsys)
		}
	}

	logger.Info("session parameters resolved",
		slog.String("hps_image", p.HPSImage),
		slog.String("programmer", p.Programmer.Tool),
		slog.String("terminal", p.Terminal.String()),
		slog.String("block_device", p.Board.BlockDevice.String()),
		slog.String("stop_at", p.StopAt.String()),
	)
	if p.Remote != nil {
		logger.Info("remote lab host", slog.Any("remote", p.Remote))
	}
	return p, nil
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Resolver) resolveLocal(ctx context.Context, fsys ports.FileSystem, cfg *config.Config, p *Params) error {
	image, err := resolveImage(fsys, cfg.Board.HPSImage)
	if err != nil {
		return &ResolutionError{Field: "hps image", Value: cfg.Board.HPSImage, Err: err}
	}
	p.HPSImage = image

	tool, err := fsys.LookPath(p.Programmer.Tool)
	if err != nil {
		return &ResolutionError{Field: "programmer", Value: p.Programmer.Tool, Err: err}
	}
	p.Programmer.Tool = tool

	term, err := fsys.LookPath(p.Terminal.Program)
	if err != nil {
		return &ResolutionError{Field: "terminal program", Value: p.Terminal.Program, Err: err}
	}
	p.Terminal.Program = term

	if err := r.resolveDevice(ctx, fsys, p.Terminal.Device, cfg.Serial.WaitForDevice); err != nil {
		return &ResolutionError{Field: "serial device", Value: p.Terminal.Device, Err: err}
	}
	return nil
}

// resolveImage expands a doublestar pattern that must match exactly one
// regular file and returns its absolute path.
func resolveImage(fsys ports.FileSystem, pattern string) (string, error) {
	if !doublestar.ValidatePathPattern(pattern) {
		return "", fmt.Errorf("bad pattern: %w", doublestar.ErrBadPattern)
	}
	matches, err := fsys.Glob(pattern)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fs.ErrNotExist
	case 1:
	default:
		return "", fmt.Errorf("pattern is ambiguous: %s", strings.Join(matches, ", "))
	}

	abs, err := fsys.Abs(matches[0])
	if err != nil {
		return "", err
	}
	info, err := fsys.Stat(abs)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", abs)
	}
	return abs, nil
}

func (r *Resolver) resolveDevice(ctx context.Context, fsys ports.FileSystem, device string, wait time.Duration) error {
	_, err := fsys.Stat(device)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) || wait <= 0 {
		return err
	}

	waitFn := r.Wait
	if waitFn == nil {
		waitFn = WaitForFile
	}
	r.logger().Info("waiting for serial device", slog.String("device", device), slog.Duration("timeout", wait))
	return waitFn(ctx, fsys, device, wait)
}

func (r *Resolver) resolveRemote(fsys ports.FileSystem, rc config.RemoteConfig) (*RemoteParams, error) {
	p := &RemoteParams{
		Host:            rc.Host,
		Port:            rc.Port,
		User:            rc.User,
		KeyPath:         rc.KeyPath,
		KnownHosts:      rc.KnownHosts,
		InsecureHostKey: rc.InsecureHostKey,
		UseAgent:        rc.UseAgent,
		UploadDir:       rc.UploadDir,
	}

	if rc.PasswordEnv != "" {
		p.Password = fsys.Getenv(rc.PasswordEnv)
	}
	if rc.PassphraseEnv != "" {
		p.KeyPassphrase = fsys.Getenv(rc.PassphraseEnv)
	}

	if !rc.UseKeyring || r.Secrets == nil {
		return p, nil
	}
	if p.Password == "" {
		pw, err := r.Secrets.LabPassword(rc.Host, rc.User)
		switch {
		case errors.Is(err, security.ErrUnavailable):
			r.logger().Warn("keyring unavailable, no stored lab host password")
		case err != nil:
			return nil, &ResolutionError{Field: "lab host password", Value: rc.User + "@" + rc.Host, Err: err}
		default:
			p.Password = string(pw)
			security.Wipe(pw)
		}
	}
	if p.KeyPassphrase == "" && rc.KeyPath != "" {
		pp, err := r.Secrets.KeyPassphrase(rc.KeyPath)
		switch {
		case errors.Is(err, security.ErrUnavailable):
			r.logger().Warn("keyring unavailable, no stored key passphrase")
		case err != nil:
			return nil, &ResolutionError{Field: "key passphrase", Value: rc.KeyPath, Err: err}
		default:
			p.KeyPassphrase = string(pp)
			security.Wipe(pp)
		}
	}
	return p, nil
}
