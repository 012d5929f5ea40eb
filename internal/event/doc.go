// Package event provides a pub-sub event bus that decouples the round
// controller from its observers (terminal UI, browser display, history store,
// logging).
//
// # Main Types
//
//   - [Event]: Interface that all events implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Round lifecycle:
//   - [RoundStartedEvent]: a target was chosen and the round entered Active
//   - [RoundStateChangedEvent]: any state transition (Idle, Active, Predicting, Won)
//   - [RoundInputStartedEvent]: the user started drawing
//   - [RoundWonEvent]: a candidate matched the target
//   - [RoundResetEvent]: the round was abandoned
//
// Attempts:
//   - [AttemptDispatchedEvent]: a classify attempt was sent
//   - [AttemptCompletedEvent]: a non-stale attempt finished, successfully or not
//
// Display:
//   - [CandidateDisplayedEvent]: the presented candidate changed
//
// # Ordering
//
// Handlers run synchronously on the publishing goroutine. For a given event,
// handlers subscribed to its type run first in registration order, then
// wildcard handlers registered with [Bus.SubscribeAll]. The controller publishes
// from its tick loop, so handlers must not block; observers that do I/O hand
// the event off to their own goroutine.
//
//	bus := event.NewBus()
//	bus.Subscribe(event.TypeRoundWon, func(e event.Event) {
//	    won := e.(event.RoundWonEvent)
//	    fmt.Printf("matched %s at rank %d\n", won.Winner.Label, won.Rank)
//	})
package event
