package ssh

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/acolita/de10boot/internal/adapters/realfs"
	"github.com/acolita/de10boot/internal/ports"
)

// AuthConfig holds lab host authentication settings.
type AuthConfig struct {
	KeyPath       string // Path to private key file
	KeyPassphrase string // Passphrase for encrypted keys
	UseAgent      bool   // Use SSH agent for authentication
	Password      string // Password for password authentication
	Host          string // Target host for ~/.ssh/config lookup

	FS ports.FileSystem // Default: realfs
}

// BuildAuthMethods constructs SSH auth methods from cfg. The agent comes
// first, then an explicit key, then the IdentityFile from ~/.ssh/config,
// then the default keys, then the password.
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	fsys := cfg.FS
	if fsys == nil {
		fsys = realfs.New()
	}

	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if agentAuth, err := sshAgentAuth(fsys); err == nil {
			methods = append(methods, agentAuth)
		}
	}

	if cfg.KeyPath != "" {
		keyAuth, err := privateKeyAuth(fsys, cfg.KeyPath, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, keyAuth)
	}

	if cfg.KeyPath == "" && cfg.Host != "" {
		if configKey := identityFileFor(fsys, cfg.Host); configKey != "" {
			if keyAuth, err := privateKeyAuth(fsys, configKey, cfg.KeyPassphrase); err == nil {
				methods = append(methods, keyAuth)
			}
		}
	}

	if cfg.KeyPath == "" && cfg.Password == "" && len(methods) == 0 {
		for _, keyPath := range []string{"~/.ssh/id_ed25519", "~/.ssh/id_rsa", "~/.ssh/id_ecdsa"} {
			if keyAuth, err := privateKeyAuth(fsys, keyPath, cfg.KeyPassphrase); err == nil {
				methods = append(methods, keyAuth)
				break
			}
		}
	}

	if cfg.Password != "" {
		methods = append(methods, PasswordAuth(cfg.Password), KeyboardInteractiveAuth(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}
	return methods, nil
}

func sshAgentAuth(fsys ports.FileSystem) (ssh.AuthMethod, error) {
	socket := fsys.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func privateKeyAuth(fsys ports.FileSystem, keyPath, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := fsys.ReadFile(expandPath(fsys, keyPath))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// BuildHostKeyCallback verifies the lab host against known_hosts.
// A missing file is an error unless insecure is set.
func BuildHostKeyCallback(fsys ports.FileSystem, knownHostsPath string, insecure bool) (ssh.HostKeyCallback, error) {
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if fsys == nil {
		fsys = realfs.New()
	}
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}

	expanded := expandPath(fsys, knownHostsPath)
	if _, err := fsys.Stat(expanded); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("known_hosts %s not found (set remote.insecure_host_key to skip verification)", expanded)
		}
		return nil, fmt.Errorf("stat known_hosts: %w", err)
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

func expandPath(fsys ports.FileSystem, path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := fsys.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// identityFileFor returns the first IdentityFile of a ~/.ssh/config Host
// block matching host.
func identityFileFor(fsys ports.FileSystem, host string) string {
	data, err := fsys.ReadFile(expandPath(fsys, "~/.ssh/config"))
	if err != nil {
		return ""
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var matchesHost bool
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		switch strings.ToLower(parts[0]) {
		case "host":
			matchesHost = matchHostPatterns(host, parts[1:])
		case "identityfile":
			if matchesHost {
				return expandPath(fsys, strings.Join(parts[1:], " "))
			}
		}
	}
	return ""
}

// matchHostPatterns applies ssh_config Host patterns; "!" negates.
func matchHostPatterns(host string, patterns []string) bool {
	matched := false
	for _, p := range patterns {
		negate := strings.HasPrefix(p, "!")
		p = strings.TrimPrefix(p, "!")
		ok, err := doublestar.Match(p, host)
		if err != nil || !ok {
			continue
		}
		if negate {
			return false
		}
		matched = true
	}
	return matched
}

// PasswordAuth returns a password auth method.
func PasswordAuth(password string) ssh.AuthMethod {
	return ssh.Password(password)
}

// KeyboardInteractiveAuth answers every keyboard-interactive question
// with password.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}
