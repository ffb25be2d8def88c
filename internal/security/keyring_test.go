package security

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/zalando/go-keyring"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKeyringStore_LabPassword(t *testing.T) {
	keyring.MockInit()
	ks := NewKeyringStore(quiet())
	if !ks.IsEnabled() {
		t.Fatal("mock keyring reported unavailable")
	}

	pw, err := ks.LabPassword("lab-fpga-01", "lab")
	if err != nil || pw != nil {
		t.Fatalf("LabPassword() before store = %q, %v", pw, err)
	}

	if err := ks.StoreLabPassword("lab-fpga-01", "lab", []byte("s3cr\x00t")); err != nil {
		t.Fatalf("StoreLabPassword() error = %v", err)
	}
	pw, err = ks.LabPassword("lab-fpga-01", "lab")
	if err != nil {
		t.Fatalf("LabPassword() error = %v", err)
	}
	if string(pw) != "s3cr\x00t" {
		t.Errorf("LabPassword() = %q", pw)
	}

	if other, _ := ks.LabPassword("lab-fpga-01", "root"); other != nil {
		t.Errorf("password leaked to another user: %q", other)
	}

	if err := ks.DeleteLabPassword("lab-fpga-01", "lab"); err != nil {
		t.Fatalf("DeleteLabPassword() error = %v", err)
	}
	if err := ks.DeleteLabPassword("lab-fpga-01", "lab"); err != nil {
		t.Errorf("second DeleteLabPassword() error = %v", err)
	}
	if pw, _ := ks.LabPassword("lab-fpga-01", "lab"); pw != nil {
		t.Errorf("LabPassword() after delete = %q", pw)
	}
}

func TestKeyringStore_KeyPassphrase(t *testing.T) {
	keyring.MockInit()
	ks := NewKeyringStore(quiet())

	if err := ks.StoreKeyPassphrase("/home/lab/.ssh/id_ed25519", []byte("hunter2")); err != nil {
		t.Fatalf("StoreKeyPassphrase() error = %v", err)
	}
	pp, err := ks.KeyPassphrase("/home/lab/.ssh/id_ed25519")
	if err != nil || string(pp) != "hunter2" {
		t.Errorf("KeyPassphrase() = %q, %v", pp, err)
	}
}

func TestKeyringStore_Unavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	t.Cleanup(keyring.MockInit)

	ks := NewKeyringStore(quiet())
	if ks.IsEnabled() {
		t.Fatal("store enabled on a failing keyring")
	}
	if _, err := ks.LabPassword("h", "u"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("LabPassword() error = %v, want ErrUnavailable", err)
	}
	if err := ks.StoreLabPassword("h", "u", []byte("x")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("StoreLabPassword() error = %v, want ErrUnavailable", err)
	}
}

func TestWipe(t *testing.T) {
	b := []byte("secret")
	Wipe(b)
	for i, c := range b {
		if c != 0 {
			t.Fatalf("byte %d = %q after Wipe", i, c)
		}
	}
	Wipe(nil)
}
