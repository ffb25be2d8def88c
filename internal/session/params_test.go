package session

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/acolita/de10boot/internal/boot"
	"github.com/acolita/de10boot/internal/config"
	"github.com/acolita/de10boot/internal/ports"
	"github.com/acolita/de10boot/internal/security"
	"github.com/acolita/de10boot/internal/testing/fakes/fakefs"
)

// labFS is a workstation with Quartus, picocom and the board plugged in.
func labFS() *fakefs.FS {
	return fakefs.New().
		AddExecutable("/opt/intelFPGA/quartus/bin/quartus_pgm").
		AddExecutable("/usr/bin/picocom").
		AddFile("/dev/ttyUSB0", nil, 0660).
		AddFile("/work/output_files/hps.sof", []byte("sof"), 0644)
}

func labConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Board.HPSImage = "output_files/hps.sof"
	return cfg
}

func TestResolve_Local(t *testing.T) {
	cfg := labConfig()
	cfg.Board.BlockDevice = boot.USB
	cfg.Board.StopAt = boot.StageLoadImage
	cfg.Recording.Enabled = true

	r := &Resolver{FS: labFS(), Verbosity: 2}
	p, err := r.Resolve(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if p.HPSImage != "/work/output_files/hps.sof" {
		t.Errorf("HPSImage = %q", p.HPSImage)
	}
	if p.Programmer.Tool != "/opt/intelFPGA/quartus/bin/quartus_pgm" {
		t.Errorf("programmer = %q", p.Programmer.Tool)
	}
	if p.Terminal.Program != "/usr/bin/picocom" || p.Terminal.Device != "/dev/ttyUSB0" || p.Terminal.Baud != 115200 {
		t.Errorf("terminal = %+v", p.Terminal)
	}
	if p.Board.BlockDevice != boot.USB || p.StopAt != boot.StageLoadImage || p.Verbosity != 2 {
		t.Errorf("board=%v stop=%v verbosity=%d", p.Board.BlockDevice, p.StopAt, p.Verbosity)
	}
	if p.Programmer.Slot != 2 || p.Programmer.Mode != "jtag" {
		t.Errorf("programmer params = %+v", p.Programmer)
	}
	if p.RecordDir != "/home/test/.local/state/de10boot/recordings" {
		t.Errorf("RecordDir = %q", p.RecordDir)
	}
	if p.Remote != nil {
		t.Errorf("Remote = %+v in local mode", p.Remote)
	}
}

func TestResolve_Glob(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		extra   []string
		want    string
		wantErr error
	}{
		{"double star", "/work/**/hps.sof", nil, "/work/output_files/hps.sof", nil},
		{"relative star", "output_files/*.sof", nil, "/work/output_files/hps.sof", nil},
		{"no match", "/work/**/missing.sof", nil, "", fs.ErrNotExist},
		{"ambiguous", "/work/**/*.sof", []string{"/work/old/hps.sof"}, "", nil},
		{"bad pattern", "/work/[.sof", nil, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := labFS()
			for _, f := range tt.extra {
				fsys.AddFile(f, nil, 0644)
			}
			cfg := labConfig()
			cfg.Board.HPSImage = tt.pattern

			p, err := (&Resolver{FS: fsys}).Resolve(t.Context(), cfg)
			if tt.want != "" {
				if err != nil {
					t.Fatalf("Resolve() error = %v", err)
				}
				if p.HPSImage != tt.want {
					t.Errorf("HPSImage = %q, want %q", p.HPSImage, tt.want)
				}
				return
			}

			var re *ResolutionError
			if !errors.As(err, &re) || re.Field != "hps image" {
				t.Fatalf("Resolve() error = %v, want hps image ResolutionError", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolve_DefaultImage(t *testing.T) {
	fsys := labFS().AddFile("/work/socfpga.hps.rbf", []byte("rbf"), 0644)

	p, err := (&Resolver{FS: fsys}).Resolve(t.Context(), config.DefaultConfig())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.HPSImage != "/work/socfpga.hps.rbf" {
		t.Errorf("HPSImage = %q", p.HPSImage)
	}
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name      string
		fsys      func() *fakefs.FS
		modify    func(*config.Config)
		wantField string
	}{
		{
			name:      "no image",
			fsys:      labFS,
			modify:    func(c *config.Config) { c.Board.HPSImage = "" },
			wantField: "hps image",
		},
		{
			name: "missing quartus_pgm",
			fsys: func() *fakefs.FS {
				return fakefs.New().
					AddExecutable("/usr/bin/picocom").
					AddFile("/dev/ttyUSB0", nil, 0660).
					AddFile("/work/output_files/hps.sof", nil, 0644)
			},
			modify:    func(*config.Config) {},
			wantField: "programmer",
		},
		{
			name: "missing picocom",
			fsys: func() *fakefs.FS {
				return fakefs.New().
					AddExecutable("/opt/q/quartus_pgm").
					AddFile("/dev/ttyUSB0", nil, 0660).
					AddFile("/work/output_files/hps.sof", nil, 0644)
			},
			modify:    func(*config.Config) {},
			wantField: "terminal program",
		},
		{
			name:      "missing serial device",
			fsys:      labFS,
			modify:    func(c *config.Config) { c.Serial.Device = "/dev/ttyUSB3" },
			wantField: "serial device",
		},
		{
			name:      "invalid config",
			fsys:      labFS,
			modify:    func(c *config.Config) { c.Serial.Baud = 0 },
			wantField: "config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := labConfig()
			tt.modify(cfg)
			_, err := (&Resolver{FS: tt.fsys()}).Resolve(t.Context(), cfg)
			var re *ResolutionError
			if !errors.As(err, &re) {
				t.Fatalf("Resolve() error = %v, want *ResolutionError", err)
			}
			if re.Field != tt.wantField {
				t.Errorf("Field = %q, want %q (%v)", re.Field, tt.wantField, err)
			}
		})
	}
}

func TestResolve_WaitsForDevice(t *testing.T) {
	fsys := labFS()
	cfg := labConfig()
	cfg.Serial.Device = "/dev/ttyUSB1"
	cfg.Serial.WaitForDevice = 30 * time.Second

	var waited string
	var waitedFor time.Duration
	r := &Resolver{
		FS: fsys,
		Wait: func(ctx context.Context, _ ports.FileSystem, path string, timeout time.Duration) error {
			waited, waitedFor = path, timeout
			return nil
		},
	}
	if _, err := r.Resolve(t.Context(), cfg); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if waited != "/dev/ttyUSB1" || waitedFor != 30*time.Second {
		t.Errorf("waited for %q %v", waited, waitedFor)
	}

	r.Wait = func(context.Context, ports.FileSystem, string, time.Duration) error { return ErrWaitTimeout }
	_, err := r.Resolve(t.Context(), cfg)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("Resolve() error = %v, want ErrWaitTimeout", err)
	}
}

func TestResolve_Remote(t *testing.T) {
	keyring.MockInit()

	store := security.NewKeyringStore(nil)
	if err := store.StoreLabPassword("lab-fpga-01", "lab", []byte("from-keyring")); err != nil {
		t.Fatalf("StoreLabPassword() error = %v", err)
	}

	// Nothing exists locally: remote mode must not look.
	fsys := fakefs.New().SetEnv("LAB_KEY_PASSPHRASE", "pp")
	cfg := config.DefaultConfig()
	cfg.Board.HPSImage = "/home/lab/bitfiles/hps.sof"
	cfg.Remote.Host = "lab-fpga-01"
	cfg.Remote.User = "lab"
	cfg.Remote.KeyPath = "~/.ssh/lab"
	cfg.Remote.PassphraseEnv = "LAB_KEY_PASSPHRASE"
	cfg.Remote.UseKeyring = true

	p, err := (&Resolver{FS: fsys, Secrets: store}).Resolve(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.Remote == nil {
		t.Fatal("Remote = nil")
	}
	if p.Remote.Password != "from-keyring" || p.Remote.KeyPassphrase != "pp" {
		t.Errorf("credentials = %q / %q", p.Remote.Password, p.Remote.KeyPassphrase)
	}
	if p.HPSImage != "/home/lab/bitfiles/hps.sof" || p.Programmer.Tool != "quartus_pgm" || p.Terminal.Program != "picocom" {
		t.Errorf("remote paths rewritten: image=%q tool=%q term=%q", p.HPSImage, p.Programmer.Tool, p.Terminal.Program)
	}
	if got := p.Remote.LogValue().String(); strings.Contains(got, "from-keyring") {
		t.Errorf("LogValue leaks the password: %s", got)
	}
}

func TestResolve_RemoteUploadResolvesLocally(t *testing.T) {
	cfg := labConfig()
	cfg.Board.HPSImage = "**/hps.sof"
	cfg.Remote.Host = "lab-fpga-01"
	cfg.Remote.User = "lab"
	cfg.Remote.UploadDir = "/home/lab/de10boot"

	p, err := (&Resolver{FS: labFS()}).Resolve(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.HPSImage != "/work/output_files/hps.sof" || p.Remote.UploadDir != "/home/lab/de10boot" {
		t.Errorf("image=%q upload_dir=%q", p.HPSImage, p.Remote.UploadDir)
	}

	cfg.Board.HPSImage = "**/missing.sof"
	var re *ResolutionError
	if _, err := (&Resolver{FS: labFS()}).Resolve(t.Context(), cfg); !errors.As(err, &re) || re.Field != "hps image" {
		t.Errorf("Resolve() error = %v, want hps image ResolutionError", err)
	}
}

func TestResolve_RemoteKeyringUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	store := security.NewKeyringStore(nil)

	cfg := config.DefaultConfig()
	cfg.Board.HPSImage = "/bitfiles/hps.sof"
	cfg.Remote.Host = "lab-fpga-01"
	cfg.Remote.User = "lab"
	cfg.Remote.PasswordEnv = "LAB_PASSWORD"
	cfg.Remote.UseKeyring = true

	fsys := fakefs.New().SetEnv("LAB_PASSWORD", "from-env")
	p, err := (&Resolver{FS: fsys, Secrets: store}).Resolve(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.Remote.Password != "from-env" {
		t.Errorf("Password = %q", p.Remote.Password)
	}

	cfg.Remote.PasswordEnv = ""
	p, err = (&Resolver{FS: fsys, Secrets: store}).Resolve(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Resolve() with unavailable keyring error = %v", err)
	}
	if p.Remote.Password != "" {
		t.Errorf("Password = %q", p.Remote.Password)
	}
}

func TestResolutionError(t *testing.T) {
	err := &ResolutionError{Field: "programmer", Value: "quartus_pgm", Err: fs.ErrNotExist}
	if got := err.Error(); got != `resolve programmer "quartus_pgm": file does not exist` {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("ResolutionError does not unwrap")
	}
	bare := &ResolutionError{Field: "hps image", Err: errors.New("no image given")}
	if got := bare.Error(); got != "resolve hps image: no image given" {
		t.Errorf("Error() = %q", got)
	}
}
