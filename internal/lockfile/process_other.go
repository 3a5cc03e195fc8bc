//go:build !unix

package lockfile

// ProcessAlive assumes a recorded pid is alive where signals are unavailable.
func ProcessAlive(pid int) bool {
	return pid > 0
}
