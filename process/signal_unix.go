//go:build !windows

package process

import "syscall"

// stopSignal is the polite termination request sent before escalating to
// a hard kill.
var stopSignal = syscall.SIGTERM
