// Package scheduler keeps the registry of named schedules and fires them.
//
// One dispatch goroutine owns timing. It sleeps until the earliest next fire
// time (or until the registry changes), submits every due registration to
// the worker pool and computes the following fire time. Registry mutation and
// fire-time computation share one mutex, so replacing a registration by name
// is atomic with respect to dispatch.
//
// A registration whose previous run is still queued or executing is skipped
// for that slot (skip-if-running). Fixed-rate schedules that fall behind skip
// the missed slots instead of bursting.
package scheduler
