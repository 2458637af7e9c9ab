//go:build !unix

package orchestrator

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}
