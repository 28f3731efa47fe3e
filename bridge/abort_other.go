//go:build !unix

package bridge

import "os"

// ProcessAborter terminates the process.
type ProcessAborter struct{}

// Abort implements Aborter.
func (ProcessAborter) Abort(dumpCore bool) {
	if dumpCore {
		os.Exit(134)
	}
	os.Exit(1)
}
