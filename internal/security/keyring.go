// Package security looks up lab host credentials in the OS keyring.
package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for keyring entries.
const KeyringService = "de10boot"

// ErrUnavailable is returned when the OS keyring cannot be used.
var ErrUnavailable = errors.New("keyring not available")

// KeyringStore stores lab host secrets in the system keyring (macOS
// Keychain, Linux Secret Service, Windows Credential Manager).
type KeyringStore struct {
	enabled bool
	logger  *slog.Logger
}

// NewKeyringStore probes the keyring and disables the store if it is
// unusable, which is common on headless lab machines.
func NewKeyringStore(logger *slog.Logger) *KeyringStore {
	if logger == nil {
		logger = slog.Default()
	}
	ks := &KeyringStore{enabled: true, logger: logger}

	const probe = "__de10boot_probe__"
	if err := keyring.Set(KeyringService, probe, "probe"); err != nil {
		logger.Debug("keyring not available", slog.String("error", err.Error()))
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, probe)
	return ks
}

// IsEnabled returns true if the keyring is usable.
func (ks *KeyringStore) IsEnabled() bool {
	return ks.enabled
}

func labHostKey(host, user string) string {
	return fmt.Sprintf("lab:%s@%s", user, host)
}

func passphraseKey(keyPath string) string {
	return "ssh-passphrase:" + keyPath
}

// StoreLabPassword saves the SSH password for user on host.
func (ks *KeyringStore) StoreLabPassword(host, user string, password []byte) error {
	if err := ks.set(labHostKey(host, user), password); err != nil {
		return fmt.Errorf("store lab host password: %w", err)
	}
	ks.logger.Debug("stored lab host password", slog.String("user", user), slog.String("host", host))
	return nil
}

// LabPassword returns the stored password, or nil when none is stored.
func (ks *KeyringStore) LabPassword(host, user string) ([]byte, error) {
	pw, err := ks.get(labHostKey(host, user))
	if err != nil {
		return nil, fmt.Errorf("get lab host password: %w", err)
	}
	return pw, nil
}

// DeleteLabPassword removes a stored password. Deleting a missing entry
// is not an error.
func (ks *KeyringStore) DeleteLabPassword(host, user string) error {
	if err := ks.delete(labHostKey(host, user)); err != nil {
		return fmt.Errorf("delete lab host password: %w", err)
	}
	return nil
}

// StoreKeyPassphrase saves the passphrase of an encrypted SSH key.
func (ks *KeyringStore) StoreKeyPassphrase(keyPath string, passphrase []byte) error {
	if err := ks.set(passphraseKey(keyPath), passphrase); err != nil {
		return fmt.Errorf("store key passphrase: %w", err)
	}
	ks.logger.Debug("stored key passphrase", slog.String("key_path", keyPath))
	return nil
}

// KeyPassphrase returns the stored passphrase, or nil when none is stored.
func (ks *KeyringStore) KeyPassphrase(keyPath string) ([]byte, error) {
	pw, err := ks.get(passphraseKey(keyPath))
	if err != nil {
		return nil, fmt.Errorf("get key passphrase: %w", err)
	}
	return pw, nil
}

// Values are base64 encoded so arbitrary bytes survive every backend.
func (ks *KeyringStore) set(key string, secret []byte) error {
	if !ks.enabled {
		return ErrUnavailable
	}
	return keyring.Set(KeyringService, key, base64.StdEncoding.EncodeToString(secret))
}

func (ks *KeyringStore) get(key string) ([]byte, error) {
	if !ks.enabled {
		return nil, ErrUnavailable
	}
	encoded, err := keyring.Get(KeyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return secret, nil
}

func (ks *KeyringStore) delete(key string) error {
	if !ks.enabled {
		return ErrUnavailable
	}
	if err := keyring.Delete(KeyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

// Wipe zeroes a secret once it has been handed to the SSH client.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
