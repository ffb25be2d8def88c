// Package fakesshdialer provides a fake lab-host dialer for testing.
package fakesshdialer

import (
	"errors"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ErrNotConfigured is returned by a Dialer that was given no behavior.
var ErrNotConfigured = errors.New("fakesshdialer: not configured")

// Dialer records dial attempts and returns a configurable result.
type Dialer struct {
	mu     sync.Mutex
	client *ssh.Client
	err    error
	calls  []DialCall
}

// DialCall records a call to Dial.
type DialCall struct {
	Network string
	Addr    string
	Config  *ssh.ClientConfig
}

// New creates a fake Dialer that fails with ErrNotConfigured.
func New() *Dialer {
	return &Dialer{err: ErrNotConfigured}
}

// Dial records the call and returns the configured client or error.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, DialCall{Network: network, Addr: addr, Config: config})
	if d.err != nil {
		return nil, d.err
	}
	return d.client, nil
}

// SetError makes every Dial fail with err.
func (d *Dialer) SetError(err error) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
	return d
}

// SetClient makes every Dial succeed with client.
func (d *Dialer) SetClient(client *ssh.Client) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.client, d.err = client, nil
	return d
}

// Calls returns all recorded Dial calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}
