package ports

import (
	"golang.org/x/crypto/ssh"
)

// SSHDialer abstracts the connection to the lab host that owns the serial console.
type SSHDialer interface {
	// Dial establishes an SSH connection to the given address.
	Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
