package rpc

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SocketName is the daemon socket file inside the data directory.
const SocketName = "fieldmerge.sock"

// MaxUnixSocketPath is the longest socket path accepted on every platform we
// build for (macOS caps sun_path at 104 bytes including the terminator).
const MaxUnixSocketPath = 103

// socketTmpDir holds hashed socket directories for long data paths.
// $TMPDIR is avoided since it is itself long on macOS.
const socketTmpDir = "/tmp"

const hashedDirPrefix = "fieldmerge-"

// SocketPath returns the daemon socket for a data directory. Paths that would
// exceed MaxUnixSocketPath move to /tmp/fieldmerge-<hash>/.
func SocketPath(dataDir string) string {
	natural := filepath.Join(dataDir, SocketName)
	if len(natural) <= MaxUnixSocketPath {
		return natural
	}

	canonical := dataDir
	if abs, err := filepath.Abs(dataDir); err == nil {
		canonical = abs
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}
	sum := sha256.Sum256([]byte(canonical))
	return filepath.Join(socketTmpDir, hashedDirPrefix+hex.EncodeToString(sum[:4]), SocketName)
}

func isHashedDir(dir string) bool {
	return strings.HasPrefix(dir, filepath.Join(socketTmpDir, hashedDirPrefix))
}

// EnsureSocketDir creates the directory holding socketPath.
func EnsureSocketDir(socketPath string) (string, error) {
	perm := os.FileMode(0o750)
	if isHashedDir(filepath.Dir(socketPath)) {
		perm = 0o700
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), perm); err != nil {
		return "", err
	}
	return socketPath, nil
}

// CleanupSocketDir removes the socket, and its directory when it is a
// hashed /tmp directory we created.
func CleanupSocketDir(socketPath string) error {
	err := os.Remove(socketPath)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	if dir := filepath.Dir(socketPath); isHashedDir(dir) {
		// Fails when not empty, which is fine
		_ = os.Remove(dir)
	}
	return err
}

func endpointExists(socketPath string) bool {
	_, err := os.Stat(socketPath)
	return err == nil
}

func listenRPC(socketPath string) (net.Listener, error) {
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(socketPath, 0o600)
	return listener, nil
}

func dialRPC(socketPath string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", socketPath, timeout)
}
