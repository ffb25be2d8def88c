package ssh

import (
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/de10boot/internal/testing/fakes/fakeclock"
	"github.com/acolita/de10boot/internal/testing/fakes/fakesshdialer"
)

func validOptions() ClientOptions {
	return ClientOptions{
		Host:            "lab-fpga-01",
		User:            "lab",
		AuthMethods:     []ssh.AuthMethod{ssh.Password("pass")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ClientOptions)
		wantErr string
	}{
		{"missing host", func(o *ClientOptions) { o.Host = "" }, "host is required"},
		{"missing user", func(o *ClientOptions) { o.User = "" }, "user is required"},
		{"missing auth", func(o *ClientOptions) { o.AuthMethods = nil }, "at least one auth method is required"},
		{"missing host key check", func(o *ClientOptions) { o.HostKeyCallback = nil }, "host key callback is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(&opts)
			_, err := NewClient(opts)
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("NewClient() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(validOptions())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.Addr() != "lab-fpga-01:22" {
		t.Errorf("Addr() = %q", c.Addr())
	}
	if c.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", c.config.Timeout)
	}
	if c.keepaliveInterval != 30*time.Second {
		t.Errorf("keepalive = %v", c.keepaliveInterval)
	}
	if c.IsConnected() {
		t.Error("new client reports connected")
	}

	def := DefaultClientOptions()
	if def.Port != 22 || def.Timeout != 30*time.Second {
		t.Errorf("DefaultClientOptions() = %+v", def)
	}
}

func TestClient_ConnectDialError(t *testing.T) {
	dialer := fakesshdialer.New().SetError(errors.New("connection refused"))
	opts := validOptions()
	opts.Port = 2222
	opts.Dialer = dialer
	opts.Clock = fakeclock.New(time.Now())

	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	err = c.Connect()
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("Connect() error = %v", err)
	}
	calls := dialer.Calls()
	if len(calls) != 1 || calls[0].Addr != "lab-fpga-01:2222" || calls[0].Config.User != "lab" {
		t.Errorf("dial calls = %+v", calls)
	}
	if c.IsConnected() {
		t.Error("client connected after dial error")
	}
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient(validOptions())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := c.NewSession(); err == nil {
		t.Error("NewSession() succeeded without a connection")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClient_ConnectToLabHost(t *testing.T) {
	host, port := startLabHost(t, func(string, ssh.Channel) uint32 { return 0 })
	c := newLabClient(t, host, port)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if !strings.HasSuffix(c.Addr(), ":"+portString(port)) {
		t.Errorf("Addr() = %q", c.Addr())
	}

	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	s.Close()

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestClient_WrongPassword(t *testing.T) {
	host, port := startLabHost(t, func(string, ssh.Channel) uint32 { return 0 })
	c, err := NewClient(ClientOptions{
		Host:            host,
		Port:            port,
		User:            "lab",
		AuthMethods:     []ssh.AuthMethod{PasswordAuth("wrong")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Connect(); err == nil {
		c.Close()
		t.Fatal("Connect() succeeded with a wrong password")
	}
}
