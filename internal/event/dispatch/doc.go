// Package dispatch executes event handlers on behalf of the event bus.
//
// The Executor runs one handler at a time, recovering from panics and
// measuring how long the handler took. It never decides which goroutine a
// handler runs on: the bus calls it from its dispatch goroutine for
// background subscriptions, and from DrainMain for main-thread
// subscriptions.
//
// # Usage
//
//	exec := dispatch.NewExecutor(dispatch.WithTimeout(30 * time.Second))
//	result := exec.Execute(ctx, env, handler)
//	if !result.Success {
//	    // count or log result.Error or result.PanicValue
//	}
package dispatch
