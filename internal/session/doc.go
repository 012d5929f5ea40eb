// Package session runs one recognition session: rounds in which the player
// draws a target label while snapshots are classified on a fixed cadence.
//
// # Main Types
//
//   - [Controller]: owns all session state and is the only type hosts talk to
//   - [Machine]: round lifecycle (Idle, Active, Predicting, Won)
//   - [Scheduler]: cadence timing with at most one classify call in flight
//   - [Cycler]: rotates which ranked candidate is presented
//   - [Evaluator]: decides whether a prediction set contains the target
//   - [Stats]: attempt count and the frozen winning values
//   - [Guard] and [Lock]: keep two controllers off the same device, in-process
//     and across processes
//
// # Driving a Session
//
// The controller never starts goroutines of its own apart from the classify
// calls made by an [AsyncDispatcher]. A host calls [Controller.Tick] with the
// time elapsed since the previous call:
//
//	ctrl, err := session.New(cfg, session.Deps{
//	    Source:     src,
//	    Dispatcher: session.NewAsyncDispatcher(client),
//	    Targets:    picker,
//	    Bus:        bus,
//	    Logger:     logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Close()
//
//	_ = ctrl.Start()
//	for range ticker.C {
//	    ctrl.Tick(interval)
//	}
//
// # Stale Responses
//
// Every dispatched attempt is tagged with the round generation and a request
// ID. A completion is applied only when both match the live in-flight
// attempt; anything else is dropped without touching round state.
package session
