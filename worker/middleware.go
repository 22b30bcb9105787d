package worker

import (
	"context"

	"github.com/tntqueue/tntqueue/client"
)

// Context is what a middleware sees of the task being performed.
type Context interface {
	context.Context

	Task() *client.Task
	Tube() client.Tube
}

type Ctx struct {
	context.Context

	task *client.Task
	tube client.Tube
}

func (c Ctx) Task() *client.Task {
	return c.task
}

func (c Ctx) Tube() client.Tube {
	return c.tube
}

type MiddlewareFunc func(next func() error, ctx Context) error
type MiddlewareChain []MiddlewareFunc

// Run the given task through the given middleware chain.
// `final` is the function called if the entire chain passes the task along.
func callMiddleware(chain MiddlewareChain, ctx Context, final func() error) error {
	if len(chain) == 0 {
		return final()
	}

	link := chain[0]
	rest := chain[1:]
	return link(func() error { return callMiddleware(rest, ctx, final) }, ctx)
}
