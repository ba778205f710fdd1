package temporal

import (
	"os"
	"syscall"
)

// fsyncFile flushes file data and metadata to stable storage.
func fsyncFile(file *os.File) error {
	return syscall.Fsync(int(file.Fd()))
}
