// Package config handles the de10boot YAML profile.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acolita/de10boot/internal/adapters/realfs"
	"github.com/acolita/de10boot/internal/boot"
	"github.com/acolita/de10boot/internal/logging"
	"github.com/acolita/de10boot/internal/ports"
	"github.com/acolita/de10boot/internal/program"
	"github.com/acolita/de10boot/internal/pty"
)

// DefaultConfigPath returns $XDG_CONFIG_HOME/de10boot/config.yaml or
// ~/.config/de10boot/config.yaml.
func DefaultConfigPath(fsys ports.FileSystem) string {
	dir := fsys.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := fsys.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "de10boot", "config.yaml")
}

// DefaultRecordingDir returns $XDG_STATE_HOME/de10boot/recordings or
// ~/.local/state/de10boot/recordings.
func DefaultRecordingDir(fsys ports.FileSystem) string {
	dir := fsys.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := fsys.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "de10boot", "recordings")
}

// Config represents the top-level configuration.
type Config struct {
	Board      BoardConfig      `yaml:"board"`
	Serial     SerialConfig     `yaml:"serial"`
	Programmer ProgrammerConfig `yaml:"programmer"`
	Remote     RemoteConfig     `yaml:"remote"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Logging    LoggingConfig    `yaml:"logging"`
	Recording  RecordingConfig  `yaml:"recording"`
}

// DefaultHPSImage is the HPS image Quartus writes next to the project.
const DefaultHPSImage = "socfpga.hps.rbf"

// BoardConfig describes the images and where U-Boot finds them.
type BoardConfig struct {
	HPSImage          string           `yaml:"hps_image"` // may be a ** glob matching one file
	CoreImage         string           `yaml:"core_image"`
	BlockDevice       boot.BlockDevice `yaml:"block_device"` // "mmc" or "usb"
	SecondaryLoader   string           `yaml:"secondary_loader"`
	Kernel            string           `yaml:"kernel"`
	DeviceTree        string           `yaml:"device_tree"`
	LoaderAddress     Address          `yaml:"loader_address"`
	DeviceTreeAddress Address          `yaml:"device_tree_address"`
	StopAt            boot.Stage       `yaml:"stop_at"`
}

// SerialConfig describes the console link.
type SerialConfig struct {
	Device        string        `yaml:"device"`
	Baud          int           `yaml:"baud"`
	Terminal      string        `yaml:"terminal"`        // terminal program, default picocom
	WaitForDevice time.Duration `yaml:"wait_for_device"` // 0 = device must already exist
}

// ProgrammerConfig configures quartus_pgm.
type ProgrammerConfig struct {
	Tool             string `yaml:"tool"`
	Mode             string `yaml:"mode"`
	Cable            string `yaml:"cable"`
	Slot             int    `yaml:"slot"`
	IgnoreExitStatus bool   `yaml:"ignore_exit_status"`
}

// RemoteConfig selects a lab host that owns the board. When Host is set,
// quartus_pgm and the terminal program run there over SSH.
type RemoteConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	KeyPath         string `yaml:"key_path"`
	PassphraseEnv   string `yaml:"passphrase_env"` // env var containing key passphrase
	PasswordEnv     string `yaml:"password_env"`   // env var containing SSH password
	KnownHosts      string `yaml:"known_hosts"`
	InsecureHostKey bool   `yaml:"insecure_host_key"`
	UseAgent        bool   `yaml:"use_agent"`
	UseKeyring      bool   `yaml:"use_keyring"`
	// UploadDir makes hps_image a local file that is copied into this lab
	// host directory before programming.
	UploadDir string `yaml:"upload_dir"`
}

// TimeoutsConfig bounds console waits.
type TimeoutsConfig struct {
	Default  time.Duration `yaml:"default"`
	Autoboot time.Duration `yaml:"autoboot"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"; empty follows -verbosity
	Format   string `yaml:"format"`   // "json" or "text"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// RecordingConfig defines transcript recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // directory to store transcripts
}

// Address is a load address written in hex in YAML.
type Address uint64

// UnmarshalYAML accepts decimal, 0x-prefixed hex and 0o octal.
func (a *Address) UnmarshalYAML(n *yaml.Node) error {
	v, err := strconv.ParseUint(n.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: invalid address %q", n.Line, n.Value)
	}
	*a = Address(v)
	return nil
}

// MarshalYAML writes the address in hex.
func (a Address) MarshalYAML() (any, error) {
	return fmt.Sprintf("%#x", uint64(a)), nil
}

// DefaultConfig returns the configuration of the lab DE10-Pro.
func DefaultConfig() *Config {
	b := boot.DefaultBoard()
	return &Config{
		Board: BoardConfig{
			HPSImage:          DefaultHPSImage,
			CoreImage:         b.CoreImage,
			BlockDevice:       b.BlockDevice,
			SecondaryLoader:   b.Loader,
			Kernel:            b.Kernel,
			DeviceTree:        b.DeviceTree,
			LoaderAddress:     Address(b.LoaderAddr),
			DeviceTreeAddress: Address(b.DeviceTreeAddr),
			StopAt:            boot.LastStage(),
		},
		Serial: SerialConfig{
			Device:   pty.DefaultDevice,
			Baud:     pty.DefaultBaud,
			Terminal: pty.DefaultProgram,
		},
		Programmer: ProgrammerConfig{
			Tool: program.DefaultTool,
			Mode: program.DefaultMode,
			Slot: program.DefaultSlot,
		},
		Remote: RemoteConfig{
			Port:       22,
			KnownHosts: "~/.ssh/known_hosts",
			UseAgent:   true,
		},
		Timeouts: TimeoutsConfig{
			Default:  2 * time.Minute,
			Autoboot: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Format:   "json",
			Sanitize: true,
		},
	}
}

// Load reads a YAML file over the defaults. A missing file is an error
// wrapping fs.ErrNotExist. An optional FileSystem can be passed for
// testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	f := pickFS(fsys)
	cfg := DefaultConfig()

	data, err := f.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads DefaultConfigPath, returning the defaults when the
// file does not exist.
func LoadDefault(fsys ...ports.FileSystem) (*Config, string, error) {
	f := pickFS(fsys)
	path := DefaultConfigPath(f)
	if path == "" {
		return DefaultConfig(), "", nil
	}
	cfg, err := Load(path, f)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), path, nil
	}
	return cfg, path, err
}

func pickFS(fsys []ports.FileSystem) ports.FileSystem {
	if len(fsys) > 0 && fsys[0] != nil {
		return fsys[0]
	}
	return realfs.New()
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !c.Board.StopAt.Valid() {
		add("board.stop_at: invalid stage %d", int(c.Board.StopAt))
	}
	if c.Board.BlockDevice != boot.MMC && c.Board.BlockDevice != boot.USB {
		add("board.block_device: invalid device %d", int(c.Board.BlockDevice))
	}
	for name, v := range map[string]string{
		"board.core_image":       c.Board.CoreImage,
		"board.secondary_loader": c.Board.SecondaryLoader,
		"board.kernel":           c.Board.Kernel,
		"board.device_tree":      c.Board.DeviceTree,
	} {
		if v == "" {
			add("%s: must not be empty", name)
		}
	}
	if c.Serial.Baud <= 0 {
		add("serial.baud: must be positive, got %d", c.Serial.Baud)
	}
	if c.Serial.WaitForDevice < 0 {
		add("serial.wait_for_device: must not be negative")
	}
	if c.Programmer.Slot <= 0 {
		add("programmer.slot: must be positive, got %d", c.Programmer.Slot)
	}
	if c.Remote.Host != "" {
		if c.Remote.User == "" {
			add("remote.user: required when remote.host is set")
		}
		if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
			add("remote.port: out of range: %d", c.Remote.Port)
		}
		if c.Remote.UploadDir != "" && !path.IsAbs(c.Remote.UploadDir) {
			add("remote.upload_dir: must be absolute, got %q", c.Remote.UploadDir)
		}
	}
	if c.Timeouts.Default < 0 || c.Timeouts.Autoboot < 0 {
		add("timeouts: must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		add("logging.format: unknown format %q", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// BoardSettings converts the board section into the plan builder's input.
func (c *Config) BoardSettings() boot.Board {
	return boot.Board{
		BlockDevice:     c.Board.BlockDevice,
		CoreImage:       c.Board.CoreImage,
		Loader:          c.Board.SecondaryLoader,
		Kernel:          c.Board.Kernel,
		DeviceTree:      c.Board.DeviceTree,
		LoaderAddr:      uint64(c.Board.LoaderAddress),
		DeviceTreeAddr:  uint64(c.Board.DeviceTreeAddress),
		AutobootTimeout: c.Timeouts.Autoboot,
		CommandTimeout:  c.Timeouts.Default,
	}
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
