//go:build unix

package bridge

import (
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sys/unix"
)

// ProcessAborter terminates the process. With a core dump requested it
// raises SIGABRT with crash tracebacks enabled so the kernel writes a core.
type ProcessAborter struct{}

// Abort implements Aborter.
func (ProcessAborter) Abort(dumpCore bool) {
	if dumpCore {
		debug.SetTraceback("crash")
		unix.Kill(unix.Getpid(), unix.SIGABRT)
		time.Sleep(time.Second)
	}
	os.Exit(1)
}
