// Package process runs named long-lived device operations such as BLINK.
//
// Each device that supports background operations owns one Manager. A Manager
// is a two-state machine:
//
//	IDLE ──Start(name)──▶ RUNNING(name)
//	  ▲                        │
//	  └──Stop(name) / task returns / timeout
//
// At most one operation runs per Manager. Starting the running operation
// again reports AlreadyRunning and launches nothing; stopping an idle
// Manager reports NotRunning and does nothing.
//
// Cancellation is cooperative: the task receives a context that is cancelled
// on Stop or when its timeout elapses, and is expected to return promptly.
// Every Start hands back its own result channel, so concurrent operations on
// different devices never share completion state.
//
// Example usage:
//
//	mgr := process.NewManager("LED_BLUE")
//	outcome, done, err := mgr.Start("BLINK", time.Minute, process.Blink(time.Second, led.drive))
//	if err != nil {
//	    return err
//	}
//	if outcome == process.Started {
//	    go func() { res := <-done; log.Println(res.Err) }()
//	}
package process
