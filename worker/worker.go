// Package worker consumes tubes with a fixed number of goroutines per
// tube. Each task is taken through Tube.Process, so a task the handler
// leaves unsettled is always handed back to the server.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tntqueue/tntqueue/client"
	"github.com/tntqueue/tntqueue/util"
)

const (
	DefaultConcurrency = 5
	DefaultPoll        = time.Second
)

// Handler performs a task. Returning nil acks it, an error releases it
// for another attempt. A handler may settle the task itself.
type Handler func(ctx context.Context, task *client.Task) error

// PanicError is returned for a handler which panicked. The task is
// buried so it is not retried until someone kicks it.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

type registration struct {
	tube    client.Tube
	handler Handler
}

type Manager struct {
	// Concurrency is the number of consumers started for every tube.
	Concurrency int
	// Poll bounds each take, and so how long Run takes to notice
	// cancellation.
	Poll time.Duration
	// Backoff is the pause after a failed take.
	Backoff time.Duration

	mu         sync.Mutex
	tubes      []registration
	middleware MiddlewareChain
}

func NewManager() *Manager {
	return &Manager{
		Concurrency: DefaultConcurrency,
		Poll:        DefaultPoll,
		Backoff:     DefaultPoll,
	}
}

// Register consumes tube with fn once Run is called.
func (m *Manager) Register(tube client.Tube, fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tubes = append(m.tubes, registration{tube: tube, handler: fn})
}

// Use appends middleware run around every handler call, in order.
func (m *Manager) Use(fns ...MiddlewareFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middleware = append(m.middleware, fns...)
}

// Run blocks until ctx is cancelled and every consumer has finished
// its current task.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	tubes := append([]registration(nil), m.tubes...)
	chain := append(MiddlewareChain(nil), m.middleware...)
	m.mu.Unlock()

	if len(tubes) == 0 {
		return errors.New("worker: no tubes registered")
	}
	concurrency := m.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for _, reg := range tubes {
		util.Infof("Consuming %s with %d workers", reg.tube.Name(), concurrency)
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func(reg registration) {
				defer wg.Done()
				m.consume(ctx, reg, chain)
			}(reg)
		}
	}
	wg.Wait()
	return nil
}

func (m *Manager) consume(ctx context.Context, reg registration, chain MiddlewareChain) {
	for ctx.Err() == nil {
		_, err := reg.tube.Process(m.Poll, func(task *client.Task) error {
			m.perform(ctx, reg, chain, task)
			return nil
		})
		if err != nil {
			util.Warnf("Unable to take from %s: %v", reg.tube.Name(), err)
			select {
			case <-ctx.Done():
			case <-time.After(m.Backoff):
			}
		}
	}
}

func (m *Manager) perform(ctx context.Context, reg registration, chain MiddlewareChain, task *client.Task) {
	c := Ctx{Context: ctx, task: task, tube: reg.tube}
	err := callMiddleware(chain, c, func() error {
		return invoke(ctx, reg.handler, task)
	})

	if task.Status != client.StatusTaken {
		return
	}

	var perr *PanicError
	switch {
	case err == nil:
		_, err = task.Ack()
	case errors.As(err, &perr):
		util.Warnf("%s on %s: %v, burying", task, reg.tube.Name(), err)
		_, err = task.Bury()
	default:
		util.Infof("%s on %s failed: %v, releasing", task, reg.tube.Name(), err)
		_, err = task.Release()
	}
	if err != nil {
		util.Warnf("Unable to settle %s: %v", task, err)
	}
}

func invoke(ctx context.Context, fn Handler, task *client.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx, task)
}
