// Package debug provides cheap, leveled protocol tracing. It is not the
// logging subsystem the library deliberately leaves out of scope (spec
// §1) -- it's an internal diagnostic knob, off by default, in the same
// spirit as the real go-amqp internal/debug package this is grounded on.
package debug

import (
	"fmt"
	"os"
	"strconv"
)

// Level is read once from the AMQP_DEBUG_LEVEL environment variable. 0
// disables tracing entirely, which is the default and keeps Log a no-op
// fast path.
var Level = parseLevel()

func parseLevel() int {
	v, err := strconv.Atoi(os.Getenv("AMQP_DEBUG_LEVEL"))
	if err != nil {
		return 0
	}
	return v
}

// Log prints msg (fmt.Sprintf-formatted) to stderr if the configured Level
// is >= level. Call sites pass a level so verbose per-frame tracing (2-3)
// can be enabled independently of coarse state-transition tracing (1).
func Log(level int, format string, args ...any) {
	if Level < level {
		return
	}
	fmt.Fprintf(os.Stderr, "[amqp] "+format+"\n", args...)
}
