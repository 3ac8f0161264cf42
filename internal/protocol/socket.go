package protocol

import (
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/tphakala/crasgo/internal/errors"
)

// maxSockaddrPath is the sun_path limit for a SOCK_SEQPACKET unix
// address (§6: "Max path length 108 bytes").
const maxSockaddrPath = 108

// Well-known socket filenames under the configured runtime dir (§6).
const (
	SocketControl  = ".audiosrv_socket"
	SocketPlayback = ".audiosrv_playback"
	SocketCapture  = ".audiosrv_capture"
	SocketVMBridge = ".audiosrv_vm"
)

// SocketPath joins runtimeDir and name, rejecting paths that would
// overflow sockaddr_un.sun_path.
func SocketPath(runtimeDir, name string) (string, error) {
	p := filepath.Join(runtimeDir, name)
	if len(p) >= maxSockaddrPath {
		return "", errors.Newf("socket path %q exceeds sun_path limit of %d bytes", p, maxSockaddrPath).
			Component("protocol").
			Category(errors.CategoryProtocol).
			Build()
	}
	return p, nil
}

// Listener wraps a bound, listening SOCK_SEQPACKET unix socket.
type Listener struct {
	fd   int
	path string
}

// Listen creates, binds, and listens on a SOCK_SEQPACKET socket at path,
// removing any stale socket file left behind by a prior crashed run.
func Listen(path string) (*Listener, error) {
	if len(path) >= maxSockaddrPath {
		return nil, errors.Newf("socket path %q exceeds sun_path limit of %d bytes", path, maxSockaddrPath).
			Component("protocol").
			Category(errors.CategoryProtocol).
			Build()
	}
	_ = unix.Unlink(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.New(err).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, errors.New(err).Component("protocol").Category(errors.CategoryProtocol).
			Context("path", path).Build()
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, errors.New(err).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	return &Listener{fd: fd, path: path}, nil
}

// Accept blocks for the next incoming connection.
func (l *Listener) Accept() (*Conn, error) {
	connFd, _, err := unix.Accept(l.fd)
	if err != nil {
		return nil, errors.New(err).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	return &Conn{fd: connFd}, nil
}

// Close closes the listening socket and removes the socket file.
func (l *Listener) Close() error {
	err := unix.Close(l.fd)
	_ = unix.Unlink(l.path)
	if err != nil {
		return errors.New(err).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	return nil
}

// Conn is one accepted client connection: a SOCK_SEQPACKET fd that
// preserves message boundaries on its own, so each Send/Recv call
// corresponds to exactly one control message (§6).
type Conn struct {
	fd int
}

// Dial connects to a server's well-known control socket as a client.
func Dial(path string) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.New(err).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, errors.New(err).Component("protocol").Category(errors.CategoryProtocol).
			Context("path", path).Build()
	}
	return &Conn{fd: fd}, nil
}

// Send writes one whole message (its length prefix already encoded in
// the header) as a single SOCK_SEQPACKET datagram.
func (c *Conn) Send(msg []byte) error {
	if err := unix.Send(c.fd, msg, 0); err != nil {
		return errors.New(err).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	return nil
}

// Recv reads the next whole message into buf, returning the number of
// bytes read.
func (c *Conn) Recv(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(c.fd, buf, 0)
	if err != nil {
		return 0, errors.New(err).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	return n, nil
}

// SendWithFds sends msg plus SCM_RIGHTS ancillary data carrying fds, used
// for stream_connected's SHM handoff (§6: "input SHM first, then
// output").
func (c *Conn) SendWithFds(msg []byte, fds []int) error {
	rights := unix.UnixRights(fds...)
	if err := unix.Sendmsg(c.fd, msg, rights, nil, 0); err != nil {
		return errors.New(err).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	return nil
}

// RecvWithFds reads the next message into buf and parses out any
// SCM_RIGHTS file descriptors alongside it.
func (c *Conn) RecvWithFds(buf []byte, maxFds int) (n int, fds []int, err error) {
	oob := make([]byte, unix.CmsgSpace(maxFds*4))
	n, oobn, _, _, rerr := unix.Recvmsg(c.fd, buf, oob, 0)
	if rerr != nil {
		return 0, nil, errors.New(rerr).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	if oobn == 0 {
		return n, nil, nil
	}
	cmsgs, perr := unix.ParseSocketControlMessage(oob[:oobn])
	if perr != nil {
		return n, nil, errors.New(perr).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	for _, cmsg := range cmsgs {
		parsed, perr := unix.ParseUnixRights(&cmsg)
		if perr != nil {
			continue
		}
		fds = append(fds, parsed...)
	}
	return n, fds, nil
}

// Close closes the connection fd.
func (c *Conn) Close() error {
	if err := unix.Close(c.fd); err != nil {
		return errors.New(err).Component("protocol").Category(errors.CategoryProtocol).Build()
	}
	return nil
}
