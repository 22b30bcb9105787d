package client

import "time"

// Observer is notified after every remote call a Queue makes.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveCall(procedure string, elapsed time.Duration, err error)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(procedure string, elapsed time.Duration, err error)

func (fn ObserverFunc) ObserveCall(procedure string, elapsed time.Duration, err error) {
	fn(procedure, elapsed, err)
}

type observers []Observer

func (o observers) ObserveCall(procedure string, elapsed time.Duration, err error) {
	for _, ob := range o {
		ob.ObserveCall(procedure, elapsed, err)
	}
}
