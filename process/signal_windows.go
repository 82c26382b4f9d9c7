//go:build windows

package process

import "os"

// Windows has no SIGTERM delivery for unrelated processes; Kill is the
// only escalation available.
var stopSignal = os.Kill
