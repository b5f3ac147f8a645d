// Package irq models the trap-vector plumbing layer that delivers
// page-fault events to the memory management core. The real IDT setup,
// ISR stubs, and interrupt-gate installation are boot-assembly glue and
// out of scope; this package only gives the pager something concrete to
// register a handler against.
package irq

// Vector identifies a CPU exception or interrupt vector.
type Vector uint8

// PageFault is the x86 vector for the page-fault exception (#PF, vector 14),
// the one vector the memory management core cares about.
const PageFault Vector = 14

// HandlerFunc is the signature of a handler installed for a vector carrying
// an error code, matching the #PF and #GP calling convention.
type HandlerFunc func(errorCode uint32, faultAddr uintptr)

var handlers = map[Vector]HandlerFunc{}

// Register installs fn as the handler for the given vector, overwriting any
// previously installed handler. The real trap-vector layer calls the
// registered handler when the corresponding CPU exception fires; tests call
// Dispatch directly to simulate that delivery.
func Register(v Vector, fn HandlerFunc) {
	handlers[v] = fn
}

// Dispatch invokes the handler registered for v, if any. It is the
// injection point the trap-vector layer uses in production and the point
// tests use to simulate a CPU-raised exception without real hardware.
func Dispatch(v Vector, errorCode uint32, faultAddr uintptr) {
	if fn, ok := handlers[v]; ok {
		fn(errorCode, faultAddr)
	}
}

// Reset clears every registered handler. Intended for test teardown so that
// handler registration in one test does not leak into the next.
func Reset() {
	handlers = map[Vector]HandlerFunc{}
}
