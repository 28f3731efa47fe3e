package bridge

import "os"

// ProcessExiter exits the process.
type ProcessExiter struct{}

// Exit implements Exiter.
func (ProcessExiter) Exit(code int) { os.Exit(code) }
