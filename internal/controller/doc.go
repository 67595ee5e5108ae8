// Package controller serializes access to the engine and the switch.
//
// A Controller is an actor: one goroutine owns the Engine and the Switch and
// handles requests from a bounded FIFO mailbox one at a time. Update
// requests run apply, translate, write. A start-digest request brings up the
// digest stream and a child goroutine that decodes digest lists into fact
// updates; the actor applies each forwarded update as its own batch,
// interleaved with mailbox requests.
//
// Thread-safety model:
//   - SubmitUpdates, StartDigestStream, Stop: safe from any goroutine
//   - Engine and Switch: touched only by the actor goroutine
//
// A caller whose request is never answered because the actor has ended gets
// ErrActorUnavailable. Callers bound their wait with ctx.
package controller
