// Package util holds listener setup shared by the server and its entry point.
package util

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
)

const (
	// ListenFdsEnvKey carries the number of sockets passed by a socket-activating supervisor.
	ListenFdsEnvKey = "LISTEN_FDS"
	// ListenPidEnvKey names the process the sockets are intended for.
	ListenPidEnvKey = "LISTEN_PID"

	// listenFdsStart is the first inherited descriptor number.
	listenFdsStart = 3
)

// ParseInheritedListenerFDs interprets LISTEN_PID/LISTEN_FDS style values.
// It returns nil when no descriptors were passed or they were meant for a
// different process.
func ParseInheritedListenerFDs(pidValue, fdsValue string, pid int) ([]uintptr, error) {
	if fdsValue == "" {
		return nil, nil
	}
	if pidValue != "" {
		target, err := strconv.Atoi(pidValue)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", ListenPidEnvKey, pidValue, err)
		}
		if target != pid {
			return nil, nil
		}
	}
	n, err := strconv.Atoi(fdsValue)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", ListenFdsEnvKey, fdsValue, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("invalid negative %s value %d", ListenFdsEnvKey, n)
	}
	fds := make([]uintptr, n)
	for i := range fds {
		fds[i] = uintptr(listenFdsStart + i)
	}
	return fds, nil
}

// NewListenerFromFD wraps an inherited listening socket descriptor.
func NewListenerFromFD(fd uintptr) (net.Listener, error) {
	file := os.NewFile(fd, fmt.Sprintf("listener-from-fd-%d", fd))
	if file == nil {
		return nil, fmt.Errorf("invalid listener FD %d", fd)
	}
	// FileListener dups the descriptor, so the original is closed either way.
	defer file.Close()
	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("net.FileListener failed for FD %d: %w", fd, err)
	}
	return listener, nil
}

// GetInheritedListener returns the single socket passed through the
// environment, or nil if there is none. The variables are cleared so that
// child processes do not inherit them.
func GetInheritedListener() (net.Listener, error) {
	fds, err := ParseInheritedListenerFDs(os.Getenv(ListenPidEnvKey), os.Getenv(ListenFdsEnvKey), os.Getpid())
	os.Unsetenv(ListenPidEnvKey)
	os.Unsetenv(ListenFdsEnvKey)
	if err != nil || len(fds) == 0 {
		return nil, err
	}
	if len(fds) > 1 {
		return nil, fmt.Errorf("expected one inherited listener, got %d", len(fds))
	}
	return NewListenerFromFD(fds[0])
}

// Listen binds a TCP listener on address, or adopts an inherited one.
// Accepted connections are plain *net.TCPConn values so callers can
// half-close them.
func Listen(address string) (ln net.Listener, inherited bool, err error) {
	ln, err = GetInheritedListener()
	if err != nil {
		return nil, false, err
	}
	inherited = ln != nil
	if ln == nil {
		ln, err = net.Listen("tcp", address)
		if err != nil {
			return nil, false, err
		}
	}
	return ln, inherited, nil
}

// IsAddrInUse reports whether err is a bind failure on an occupied address.
func IsAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
