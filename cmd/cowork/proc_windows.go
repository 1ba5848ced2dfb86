//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonProc starts the daemon in its own process group so console
// signals sent to the TUI do not reach it.
func configureDaemonProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
