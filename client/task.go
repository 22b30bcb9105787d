package client

import (
	"fmt"
	"time"

	msgpack "gopkg.in/vmihailenco/msgpack.v2"

	"github.com/tntqueue/tntqueue/util"
)

// Status is the one-character task state reported by the server.
type Status string

const (
	StatusReady   Status = "r"
	StatusTaken   Status = "t"
	StatusDone    Status = "-"
	StatusBuried  Status = "!"
	StatusDelayed Status = "~"
)

var statusNames = map[Status]string{
	StatusReady:   "ready",
	StatusTaken:   "taken",
	StatusDone:    "done",
	StatusBuried:  "buried",
	StatusDelayed: "delayed",
}

// Name returns the full status name, UNKNOWN for codes outside the table.
func (s Status) Name() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Task is a local view of one queued task. Its fields are refreshed
// from every server response; the server holds the real state.
// A Task is not safe for concurrent use.
type Task struct {
	ID     interface{}
	Status Status
	Data   interface{}

	tube Tube
}

func newTask(tube Tube, res *Result) (*Task, error) {
	if res.RowCount() == 0 {
		return nil, fmt.Errorf("%w: error creating task", ErrZeroTuple)
	}
	row := res.First()
	return &Task{
		ID:     field(row, 0),
		Status: toStatus(field(row, 1)),
		Data:   field(row, 2),
		tube:   tube,
	}, nil
}

func (t *Task) update(res *Result) error {
	if res.RowCount() == 0 {
		return fmt.Errorf("%w: error updating task", ErrZeroTuple)
	}
	row := res.First()
	t.Status = toStatus(field(row, 1))
	t.Data = field(row, 2)
	return nil
}

func (t *Task) apply(res *Result, err error) error {
	if err != nil {
		return err
	}
	return t.update(res)
}

func (t *Task) Tube() Tube {
	return t.tube
}

func (t *Task) StatusName() string {
	return t.Status.Name()
}

func (t *Task) String() string {
	return fmt.Sprintf("Task (id: %v, status: %s)", t.ID, t.StatusName())
}

// Ack reports successful execution. It returns true once the task is done.
func (t *Task) Ack() (bool, error) {
	if err := t.apply(t.tube.Queue().Ack(t.tube.Name(), t.ID)); err != nil {
		return false, err
	}
	return t.Status == StatusDone, nil
}

// Release puts the task back to ready.
func (t *Task) Release() (bool, error) {
	if err := t.apply(t.tube.Queue().Release(t.tube.Name(), t.ID, NoDelay)); err != nil {
		return false, err
	}
	return t.Status == StatusReady, nil
}

// ReleaseDelay puts the task back, ready again after d. A positive d
// is expected to leave the task delayed. A zero d is no delay on the
// fifottl driver, so the task is expected back ready.
func (t *Task) ReleaseDelay(d time.Duration) (bool, error) {
	if d < 0 {
		return t.Release()
	}
	if err := t.apply(t.tube.Queue().Release(t.tube.Name(), t.ID, d)); err != nil {
		return false, err
	}
	if d == 0 {
		return t.Status == StatusReady, nil
	}
	return t.Status == StatusDelayed, nil
}

// Peek refreshes the task without changing it on the server.
func (t *Task) Peek() (bool, error) {
	if err := t.apply(t.tube.Queue().Peek(t.tube.Name(), t.ID)); err != nil {
		return false, err
	}
	return true, nil
}

// Bury disables the task until it is kicked.
func (t *Task) Bury() (bool, error) {
	if err := t.apply(t.tube.Queue().Bury(t.tube.Name(), t.ID)); err != nil {
		return false, err
	}
	return t.Status == StatusBuried, nil
}

// Delete removes the task permanently, whatever its state.
func (t *Task) Delete() (bool, error) {
	if err := t.apply(t.tube.Queue().Delete(t.tube.Name(), t.ID)); err != nil {
		return false, err
	}
	return t.Status == StatusDone, nil
}

// Decode copies the payload into v, which must be a pointer. The
// payload is re-encoded with msgpack so structs with msgpack tags work.
func (t *Task) Decode(v interface{}) error {
	data, err := msgpack.Marshal(t.Data)
	if err != nil {
		return fmt.Errorf("cannot encode payload of task %v: %w", t.ID, err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cannot decode payload of task %v: %w", t.ID, err)
	}
	return nil
}

// Close releases the task if it is still taken. It is the safety net
// for consumers which bail out without settling a task; failures are
// logged and dropped.
func (t *Task) Close() {
	if t.Status != StatusTaken {
		return
	}
	if _, err := t.Release(); err != nil {
		util.Debugf("Unable to release task %v on close: %v", t.ID, err)
	}
}
