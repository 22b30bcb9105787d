package client

import (
	"time"

	"github.com/tntqueue/tntqueue/util"
)

// TubeKind names the server-side tube driver.
type TubeKind string

const (
	KindFifo    TubeKind = "fifo"
	KindFifoTTL TubeKind = "fifottl"
)

type tubeKey struct {
	kind TubeKind
	name string
}

// Tube is the behaviour shared by every tube variant. Enqueueing
// differs per variant, see FifoTube.Put and FifoTTLTube.Put.
type Tube interface {
	Name() string
	Kind() TubeKind
	Queue() *Queue

	// Take waits up to timeout for a task. It returns nil, nil when
	// nothing became ready in time.
	Take(timeout time.Duration) (*Task, error)

	// Kick restores up to count buried tasks, count <= 0 means one.
	Kick(count int) (uint64, error)

	Drop() (bool, error)
	Statistics() (map[string]interface{}, error)

	// Process takes one task and hands it to fn. fn must settle the
	// task (Ack, Release, Bury or Delete); a task left taken is
	// released once fn returns.
	Process(timeout time.Duration, fn func(*Task) error) (bool, error)
}

type tube struct {
	queue *Queue
	name  string
	kind  TubeKind
	self  Tube
}

func (t *tube) Name() string {
	return t.name
}

func (t *tube) Kind() TubeKind {
	return t.kind
}

func (t *tube) Queue() *Queue {
	return t.queue
}

func (t *tube) String() string {
	return string(t.kind) + ":" + t.name
}

func (t *tube) Take(timeout time.Duration) (*Task, error) {
	res, err := t.queue.Take(t.name, timeout)
	if err != nil {
		return nil, err
	}
	if res.RowCount() == 0 {
		return nil, nil
	}
	return newTask(t.self, res)
}

func (t *tube) Kick(count int) (uint64, error) {
	return t.queue.Kick(t.name, count)
}

func (t *tube) Drop() (bool, error) {
	return t.queue.Drop(t.name)
}

func (t *tube) Statistics() (map[string]interface{}, error) {
	return t.queue.Statistics(t.name)
}

func (t *tube) Process(timeout time.Duration, fn func(*Task) error) (bool, error) {
	task, err := t.Take(timeout)
	if err != nil || task == nil {
		return false, err
	}
	defer task.Close()
	return true, fn(task)
}

// FifoTube is a plain first in, first out tube.
type FifoTube struct {
	tube
}

// Put enqueues data and returns the new task.
func (t *FifoTube) Put(data interface{}) (*Task, error) {
	res, err := t.queue.Put(t.name, data, nil)
	if err != nil {
		return nil, err
	}
	return newTask(t, res)
}

// PutOption sets a per-task option on a fifottl put. Options not
// given take the server defaults: infinite ttl, ttr equal to ttl,
// priority 0 (highest) and no delay.
type PutOption func(map[string]interface{})

// WithTTL sets how long the task lives before it is removed unseen.
func WithTTL(d time.Duration) PutOption {
	return func(m map[string]interface{}) {
		m["ttl"] = util.Seconds(d)
	}
}

// WithTTR sets how long a consumer may hold the task before the
// server releases it again.
func WithTTR(d time.Duration) PutOption {
	return func(m map[string]interface{}) {
		m["ttr"] = util.Seconds(d)
	}
}

// WithPriority sets the task priority, lower values are taken first.
func WithPriority(pri int) PutOption {
	return func(m map[string]interface{}) {
		m["pri"] = pri
	}
}

// WithDelay keeps the task delayed for d before it becomes ready.
func WithDelay(d time.Duration) PutOption {
	return func(m map[string]interface{}) {
		m["delay"] = util.Seconds(d)
	}
}

// FifoTTLTube is a fifo tube with per-task ttl, ttr, priority and delay.
type FifoTTLTube struct {
	tube
}

// Put enqueues data and returns the new task.
func (t *FifoTTLTube) Put(data interface{}, opts ...PutOption) (*Task, error) {
	params := map[string]interface{}{}
	for _, opt := range opts {
		opt(params)
	}
	res, err := t.queue.Put(t.name, data, params)
	if err != nil {
		return nil, err
	}
	return newTask(t, res)
}
