package pool

import "unsafe"

// The upstream pool implementation linknames into the standard
// library's internal/race, which isn't reachable from outside std. Race
// instrumentation isn't load-bearing for correctness here (the
// dequeue's own atomics are), so the hooks are kept as no-ops purely so
// the call sites in pool.go read the same as the upstream algorithm
// they're ported from.
var raceEnabled = false

func raceAcquire(addr unsafe.Pointer)      {}
func raceReleaseMerge(addr unsafe.Pointer) {}
func raceDisable()                         {}
func raceEnable()                          {}
