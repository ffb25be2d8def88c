package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// commandHandler plays a remote command on ch and returns its exit status.
type commandHandler func(command string, ch ssh.Channel) uint32

// startLabHost runs an SSH server on loopback that accepts the password
// "secret" and serves exec requests with handle.
func startLabHost(t *testing.T, handle commandHandler) (host string, port int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	conf := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	conf.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var wg sync.WaitGroup
	t.Cleanup(func() {
		ln.Close()
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveLabConn(nc, conf, handle)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func serveLabConn(nc net.Conn, conf *ssh.ServerConfig, handle commandHandler) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, conf)
	if err != nil {
		nc.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "sessions only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, chReqs, handle)
	}
}

// labChannel is the server side of a session. Killed is closed when the
// client sends a signal.
type labChannel struct {
	ssh.Channel
	killed chan struct{}
	once   sync.Once
}

func (c *labChannel) kill() { c.once.Do(func() { close(c.killed) }) }

// Killed returns a channel closed once the client signals the command.
func (c *labChannel) Killed() <-chan struct{} { return c.killed }

func serveSession(raw ssh.Channel, reqs <-chan *ssh.Request, handle commandHandler) {
	ch := &labChannel{Channel: raw, killed: make(chan struct{})}
	defer ch.kill()
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			req.Reply(true, nil)
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				status := handle(payload.Command, ch)
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				ch.Close()
			}()
		case "signal":
			ch.kill()
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func newLabClient(t *testing.T, host string, port int) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{
		Host:            host,
		Port:            port,
		User:            "lab",
		AuthMethods:     []ssh.AuthMethod{PasswordAuth("secret")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func portString(port int) string {
	return strconv.Itoa(port)
}
