package shmem

import (
	"os"
	"strings"
)

// DefaultDir is where shared files live when the caller names no directory:
// /dev/shm when the host has it, the temp dir otherwise.
func DefaultDir() string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// TranslatePath converts a producer's path syntax into the consumer's native
// one. Deployments that cross the WSL boundary name files as /mnt/<drive>/…
// on one side and <drive>:\… on the other; same-syntax deployments pass
// through unchanged.
func TranslatePath(p string) string {
	// Windows drive path to WSL mount.
	if len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/') {
		drive := strings.ToLower(p[:1])
		rest := strings.ReplaceAll(p[3:], "\\", "/")
		return "/mnt/" + drive + "/" + rest
	}
	return p
}

// ProducerPath converts a native path into the syntax the peer expects, the
// inverse of TranslatePath for WSL-mounted drives.
func ProducerPath(p, peerStyle string) string {
	if peerStyle != "windows" {
		return p
	}
	if strings.HasPrefix(p, "/mnt/") && len(p) > 6 && p[6] == '/' {
		drive := strings.ToUpper(p[5:6])
		rest := strings.ReplaceAll(p[7:], "/", "\\")
		return drive + ":\\" + rest
	}
	return p
}
