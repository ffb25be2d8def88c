package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/acolita/de10boot/internal/boot"
	"github.com/acolita/de10boot/internal/config"
	"github.com/acolita/de10boot/internal/console"
	"github.com/acolita/de10boot/internal/testing/fakes/fakedialog"
)

func TestApplyFlags(t *testing.T) {
	o, err := parseFlags([]string{
		"-hps-image", "output_files/**/hps.sof",
		"-boot-block-device", "usb",
		"-kernel", "kernel-test",
		"-stop-at-stage", "bsd-loader",
		"-serial", "/dev/ttyUSB2",
		"-timeout", "90s",
		"-record", "/tmp/rec",
		"-remote", "lab@lab-fpga-01:2222",
		"-v", "2",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	cfg := config.DefaultConfig()
	if err := applyFlags(cfg, o); err != nil {
		t.Fatalf("applyFlags() error = %v", err)
	}

	b := cfg.Board
	if b.HPSImage != "output_files/**/hps.sof" || b.BlockDevice != boot.USB || b.Kernel != "kernel-test" {
		t.Errorf("board = %+v", b)
	}
	if b.StopAt != boot.StageLaunchSecondaryLoader {
		t.Errorf("StopAt = %v", b.StopAt)
	}
	if cfg.Serial.Device != "/dev/ttyUSB2" || cfg.Timeouts.Default != 90*time.Second {
		t.Errorf("serial=%q timeout=%v", cfg.Serial.Device, cfg.Timeouts.Default)
	}
	if !cfg.Recording.Enabled || cfg.Recording.Path != "/tmp/rec" {
		t.Errorf("recording = %+v", cfg.Recording)
	}
	if cfg.Remote.Host != "lab-fpga-01" || cfg.Remote.User != "lab" || cfg.Remote.Port != 2222 {
		t.Errorf("remote = %+v", cfg.Remote)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

// Flags left at their defaults must not clobber the config file.
func TestApplyFlags_KeepsConfig(t *testing.T) {
	o, err := parseFlags(nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Board.Kernel = "kernel-from-file"
	cfg.Board.StopAt = boot.StageLoadImage
	cfg.Logging.Level = "error"

	if err := applyFlags(cfg, o); err != nil {
		t.Fatalf("applyFlags() error = %v", err)
	}
	if cfg.Board.Kernel != "kernel-from-file" || cfg.Board.StopAt != boot.StageLoadImage || cfg.Logging.Level != "error" {
		t.Errorf("config overwritten: %+v level=%q", cfg.Board, cfg.Logging.Level)
	}
}

func TestApplyFlags_DefaultVerbosity(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no flags", nil, "info"},
		{"quiet", []string{"-v", "0"}, "warn"},
		{"debug", []string{"-verbosity", "2"}, "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args, &bytes.Buffer{})
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			cfg := config.DefaultConfig()
			if err := applyFlags(cfg, o); err != nil {
				t.Fatalf("applyFlags() error = %v", err)
			}
			if cfg.Logging.Level != tt.want {
				t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, tt.want)
			}
		})
	}
}

func TestApplyFlags_Invalid(t *testing.T) {
	for _, args := range [][]string{
		{"-stop-at-stage", "grub"},
		{"-boot-block-device", "sata"},
		{"-remote", "lab@host:notaport"},
	} {
		o, err := parseFlags(args, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("parseFlags(%v) error = %v", args, err)
		}
		if err := applyFlags(config.DefaultConfig(), o); err == nil {
			t.Errorf("applyFlags(%v) succeeded", args)
		}
	}
}

func TestParseFlags_ExtraArguments(t *testing.T) {
	if _, err := parseFlags([]string{"hps.sof"}, &bytes.Buffer{}); err == nil {
		t.Error("positional argument accepted")
	}
}

func TestParseRemote(t *testing.T) {
	tests := []struct {
		in         string
		user, host string
		port       int
		wantErr    bool
	}{
		{"lab-fpga-01", "", "lab-fpga-01", 0, false},
		{"lab@lab-fpga-01", "lab", "lab-fpga-01", 0, false},
		{"lab@10.0.0.5:2200", "lab", "10.0.0.5", 2200, false},
		{"lab@:22", "", "", 0, true},
		{"host:0", "", "", 0, true},
	}
	for _, tt := range tests {
		user, host, port, err := parseRemote(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRemote(%q) error = %v", tt.in, err)
			continue
		}
		if user != tt.user || host != tt.host || port != tt.port {
			t.Errorf("parseRemote(%q) = %q %q %d", tt.in, user, host, port)
		}
	}
}

func TestPickStage(t *testing.T) {
	cfg := config.DefaultConfig()
	picker := &fakedialog.Picker{Result: "load-image"}
	if err := pickStage(cfg, picker); err != nil {
		t.Fatalf("pickStage() error = %v", err)
	}
	if cfg.Board.StopAt != boot.StageLoadImage {
		t.Errorf("StopAt = %v", cfg.Board.StopAt)
	}
	if picker.Current != "launch-kernel" || len(picker.Offered) != len(boot.StageNames()) {
		t.Errorf("picker offered %v with %q preselected", picker.Offered, picker.Current)
	}

	picker = &fakedialog.Picker{Err: errors.New("user aborted")}
	if err := pickStage(cfg, picker); err == nil {
		t.Error("pickStage() ignored the picker error")
	}
}

func TestReport_ShowsBufferedConsole(t *testing.T) {
	err := &boot.StageError{
		Stage:       boot.StageLoadImage,
		Interaction: "fatload-core",
		Err:         &console.TimeoutError{Pattern: "SOCFPGA", After: time.Second, Buffered: "** Unable to read file **"},
	}
	var buf bytes.Buffer
	report(&buf, err)
	if !strings.Contains(buf.String(), "** Unable to read file **") {
		t.Errorf("report() = %q", buf.String())
	}
}

func TestReport_Hints(t *testing.T) {
	err := &console.LaunchError{
		Transport: "lab-fpga-01:22",
		Err:       errors.New("ssh: handshake failed: knownhosts: key is unknown"),
	}
	var buf bytes.Buffer
	report(&buf, err)
	if !strings.Contains(buf.String(), "hint: Lab host key unknown") || !strings.Contains(buf.String(), "try: ") {
		t.Errorf("report() = %q", buf.String())
	}
}
