package process

import (
	"os/exec"
	"syscall"
)

// sysProcAttr puts the child in its own process group so a stop signal can
// be delivered to it and any descendants it spawns.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// deliverSignal sends sig to the child's process group. Falls back to
// signalling the process directly if the group is gone.
func deliverSignal(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Signal(sig)
		return
	}
	_ = syscall.Kill(-pgid, sig)
}
