package kernel

import "fmt"

// PanicFn is the signature of the fatal-diagnostic primitive the memory
// subsystem calls whenever it detects a violated invariant it cannot
// continue past (out-of-memory, double-free, block corruption, an
// unrecoverable page fault). This is an injected dependency rather than a
// direct call to the Go builtin panic: a real boot image installs a
// PanicFn that writes to the console sink and halts the CPU via
// cpu.Halt; host-side tests install a recording double so they can
// assert on the exact message for a given failure scenario.
type PanicFn func(err *Error, format string, args ...interface{})

// Panic is called by every component in kernel/mem on a fatal condition.
// The zero-value default formats the message and forwards to the Go
// builtin panic, which is enough to fail a host-side test deterministically;
// it is replaced wholesale by the boot entrypoint before the memory
// subsystem is initialized on real hardware.
var Panic PanicFn = func(err *Error, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		panic(fmt.Sprintf("[%s] %s: %s", err.Module, err.Message, msg))
	}
	panic(msg)
}

// WarnFn is the signature of the non-fatal diagnostic sink used by the
// "log and return 0" paths (Ksize/Vsize on a bogus pointer). Like
// PanicFn, it stands in for a console collaborator external to this core.
type WarnFn func(format string, args ...interface{})

// Warn is called for recoverable-at-client conditions that still deserve a
// diagnostic. The zero-value default is a no-op so that tests that don't
// care about logging don't need to install a collector; tests that do
// assert on logged output replace it for the duration of the test.
var Warn WarnFn = func(format string, args ...interface{}) {}
