// Package der executes fixed DER schedules for the gateway.
//
// A schedule holds a list of values for one target datapoint. Value i is
// active from start + i*interval until the next value takes over. After the
// last value a schedule either ends or, when cyclic, starts over.
//
// # Priority
//
// Several schedules may drive the same target. At any instant the active
// schedule with the lowest priority number wins; ties go to the schedule
// listed first. When no schedule is active the target is left alone.
//
// # Execution
//
// The scheduler evaluates all targets once per resolution tick. A value is
// applied only when the winning slot changes, so a tick never repeats a
// setpoint. The time handed to the sink is the start of the slot, the
// instant the setpoint became due.
package der
