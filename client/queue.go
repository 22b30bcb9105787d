package client

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tntqueue/tntqueue/util"
)

const (
	// WaitForever makes Take block until a task is ready.
	WaitForever time.Duration = -1

	// NoDelay releases a task straight back to ready.
	NoDelay time.Duration = -1
)

// Option configures a Queue at construction time.
type Option func(*Queue) error

func WithCredentials(user, password string) Option {
	return func(q *Queue) error {
		q.creds = Credentials{User: user, Password: password}
		return nil
	}
}

// WithConnector replaces the Connector used to open the connection.
// nil selects DefaultConnector.
func WithConnector(c Connector) Option {
	return func(q *Queue) error {
		return q.SetConnector(c)
	}
}

// WithLocker replaces the lock guarding connection creation.
// nil selects a fresh sync.Mutex.
func WithLocker(l sync.Locker) Option {
	return func(q *Queue) error {
		return q.SetLocker(l)
	}
}

func WithObserver(o Observer) Option {
	return func(q *Queue) error {
		if !usable(o) {
			return errInvalidObserver
		}
		q.observers = append(q.observers, o)
		return nil
	}
}

var errInvalidObserver = errors.New("tntqueue: observer must implement ObserveCall")

type handle struct {
	Conn
}

// closed reports whether the transport gave up on the connection for
// good. Conns which cannot tell are assumed open.
func (h *handle) closed() bool {
	c, ok := h.Conn.(interface{ Closed() bool })
	return ok && c.Closed()
}

// Queue is the entry point to one Tarantool queue server. It owns a
// single lazily created connection and the registry of tubes.
//
//	q, err := client.New("localhost", 3301, client.WithCredentials("test", "test"))
//	tube := q.TubeFifo("holy_grail")
//	task, err := tube.Put([]int{1, 2, 3})
//
// A Queue is safe for concurrent use.
type Queue struct {
	host string
	port int

	mu        sync.RWMutex
	creds     Credentials
	connector Connector
	locker    sync.Locker
	observers observers
	tubes     map[tubeKey]Tube

	conn atomic.Pointer[handle]
}

// New validates the address and returns a Queue. No connection is
// made until the first remote call.
func New(host string, port int, opts ...Option) (*Queue, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: host must not be empty", ErrBadConfig)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrBadConfig, port)
	}

	q := &Queue{
		host:      host,
		port:      port,
		connector: DefaultConnector,
		locker:    defaultLocker(),
		tubes:     map[tubeKey]Tube{},
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (q *Queue) Host() string {
	return q.host
}

func (q *Queue) Port() int {
	return q.port
}

func (q *Queue) Credentials() Credentials {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.creds
}

func (q *Queue) Connector() Connector {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.connector
}

func (q *Queue) Locker() sync.Locker {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.locker
}

// SetConnector swaps the Connector and drops the cached connection so
// the next call reconnects through c. nil restores DefaultConnector.
func (q *Queue) SetConnector(c Connector) error {
	if c == nil {
		c = DefaultConnector
	} else if !usable(c) {
		return ErrInvalidConnector
	}

	lock := q.Locker()
	lock.Lock()
	defer lock.Unlock()

	q.mu.Lock()
	q.connector = c
	q.mu.Unlock()
	q.invalidate()
	return nil
}

// SetLocker swaps the lock guarding connection creation. It waits for
// a connect in progress under the current lock. nil restores a plain
// sync.Mutex.
func (q *Queue) SetLocker(l sync.Locker) error {
	if l == nil {
		l = defaultLocker()
	} else if !usable(l) {
		return ErrInvalidLocker
	}

	old := q.Locker()
	old.Lock()
	defer old.Unlock()

	q.mu.Lock()
	q.locker = l
	q.mu.Unlock()
	return nil
}

// SetCredentials changes the login used for the connection and drops
// the cached one.
func (q *Queue) SetCredentials(user, password string) {
	lock := q.Locker()
	lock.Lock()
	defer lock.Unlock()

	q.mu.Lock()
	q.creds = Credentials{User: user, Password: password}
	q.mu.Unlock()
	q.invalidate()
}

// Connection returns the cached connection, creating it on first use.
// Concurrent first callers share a single Connect. A cached connection
// which reports itself closed is dropped and replaced.
func (q *Queue) Connection() (Conn, error) {
	if h := q.conn.Load(); h != nil && !h.closed() {
		return h.Conn, nil
	}

	lock := q.Locker()
	lock.Lock()
	defer lock.Unlock()

	if h := q.conn.Load(); h != nil {
		if !h.closed() {
			return h.Conn, nil
		}
		if q.conn.CompareAndSwap(h, nil) {
			util.Debugf("Connection to %s:%d is closed, reconnecting", q.host, q.port)
			h.Close()
		}
	}

	q.mu.RLock()
	connector, creds := q.connector, q.creds
	q.mu.RUnlock()

	conn, err := connector.Connect(q.host, q.port, creds)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: Connect returned no connection", ErrInvalidConnector)
	}

	h := &handle{conn}
	for !q.conn.CompareAndSwap(nil, h) {
		// another caller got there first, keep a single handle
		if cur := q.conn.Load(); cur != nil {
			conn.Close()
			return cur.Conn, nil
		}
	}
	util.Debugf("Connected to queue at %s:%d as %s", q.host, q.port, creds)
	return conn, nil
}

// Close closes the cached connection, if any. The Queue stays usable,
// the next call reconnects.
func (q *Queue) Close() error {
	if h := q.conn.Swap(nil); h != nil {
		return h.Close()
	}
	return nil
}

func (q *Queue) invalidate() {
	if h := q.conn.Swap(nil); h != nil {
		util.Debugf("Dropping connection to %s:%d", q.host, q.port)
		if err := h.Close(); err != nil {
			util.Debugf("Error closing connection: %v", err)
		}
	}
}

func command(tube, op string) string {
	return fmt.Sprintf("queue.tube.%s:%s", tube, op)
}

func (q *Queue) call(procedure string, args ...interface{}) (*Result, error) {
	conn, err := q.Connection()
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = []interface{}{}
	}

	start := time.Now()
	res, err := conn.Call(procedure, args)
	q.mu.RLock()
	obs := q.observers
	q.mu.RUnlock()
	if len(obs) > 0 {
		obs.ObserveCall(procedure, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}

// Put enqueues data with optional server-side options. Tube variants
// wrap this with their own parameter sets.
func (q *Queue) Put(tube string, data interface{}, opts map[string]interface{}) (*Result, error) {
	if len(opts) > 0 {
		return q.call(command(tube, "put"), data, opts)
	}
	return q.call(command(tube, "put"), data)
}

// Take waits up to timeout for a ready task. A negative timeout
// (WaitForever) waits until one appears.
func (q *Queue) Take(tube string, timeout time.Duration) (*Result, error) {
	if timeout < 0 {
		return q.call(command(tube, "take"))
	}
	return q.call(command(tube, "take"), util.Seconds(timeout))
}

// Ack reports successful execution. Only the consumer which took the
// task may ack it.
func (q *Queue) Ack(tube string, id interface{}) (*Result, error) {
	return q.call(command(tube, "ack"), id)
}

// Release puts a taken task back. A non-negative delay is sent to the
// server, NoDelay omits it.
func (q *Queue) Release(tube string, id interface{}, delay time.Duration) (*Result, error) {
	if delay < 0 {
		return q.call(command(tube, "release"), id)
	}
	return q.call(command(tube, "release"), id, map[string]interface{}{"delay": util.Seconds(delay)})
}

// Peek looks at a task without changing its state.
func (q *Queue) Peek(tube string, id interface{}) (*Result, error) {
	return q.call(command(tube, "peek"), id)
}

// Bury disables a task until it is kicked.
func (q *Queue) Bury(tube string, id interface{}) (*Result, error) {
	return q.call(command(tube, "bury"), id)
}

// Kick moves up to count buried tasks back to ready and returns how
// many moved. count <= 0 kicks one.
func (q *Queue) Kick(tube string, count int) (uint64, error) {
	if count <= 0 {
		count = 1
	}
	res, err := q.call(command(tube, "kick"), count)
	if err != nil {
		return 0, err
	}
	row := res.First()
	if len(row) == 0 {
		return 0, nil
	}
	return toUint64(row[0])
}

// Delete removes a task in any state.
func (q *Queue) Delete(tube string, id interface{}) (*Result, error) {
	return q.call(command(tube, "delete"), id)
}

// Drop removes the whole tube. The server refuses while tasks are
// in progress.
func (q *Queue) Drop(tube string) (bool, error) {
	res, err := q.call(command(tube, "drop"))
	if err != nil {
		return false, err
	}
	return res.Code == 0, nil
}

// Statistics returns the server's counters for a tube, keyed by
// section ("tasks", "calls").
func (q *Queue) Statistics(tube string) (map[string]interface{}, error) {
	res, err := q.call("queue.statistics", tube)
	if err != nil {
		return nil, err
	}
	row := res.First()
	if row == nil {
		return nil, fmt.Errorf("%w: no statistics for tube %s", ErrZeroTuple, tube)
	}
	if len(row) == 1 {
		if m, ok := normalize(row[0]).(map[string]interface{}); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("tntqueue: unexpected statistics row %v", row)
}

// AllStatistics returns the counters of every tube on the server,
// keyed by tube name.
func (q *Queue) AllStatistics() (map[string]interface{}, error) {
	res, err := q.call("queue.statistics")
	if err != nil {
		return nil, err
	}
	row := res.First()
	if row == nil {
		return nil, fmt.Errorf("%w: no statistics", ErrZeroTuple)
	}
	if len(row) == 1 {
		if m, ok := normalize(row[0]).(map[string]interface{}); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("tntqueue: unexpected statistics row %v", row)
}

// TubeFifo returns the "fifo" tube with the given name,
// creating it on first request.
func (q *Queue) TubeFifo(name string) *FifoTube {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := tubeKey{KindFifo, name}
	if t, ok := q.tubes[key]; ok {
		return t.(*FifoTube)
	}
	t := &FifoTube{}
	t.tube = tube{queue: q, name: name, kind: KindFifo, self: t}
	q.tubes[key] = t
	return t
}

// TubeFifoTTL returns the "fifottl" tube with the given name,
// creating it on first request.
func (q *Queue) TubeFifoTTL(name string) *FifoTTLTube {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := tubeKey{KindFifoTTL, name}
	if t, ok := q.tubes[key]; ok {
		return t.(*FifoTTLTube)
	}
	t := &FifoTTLTube{}
	t.tube = tube{queue: q, name: name, kind: KindFifoTTL, self: t}
	q.tubes[key] = t
	return t
}

// Tube returns a tube of the requested kind.
func (q *Queue) Tube(kind TubeKind, name string) (Tube, error) {
	switch kind {
	case KindFifo:
		return q.TubeFifo(name), nil
	case KindFifoTTL:
		return q.TubeFifoTTL(name), nil
	default:
		return nil, fmt.Errorf("tntqueue: unknown tube kind %q", kind)
	}
}

// Tubes lists every registered tube ordered by name.
func (q *Queue) Tubes() []Tube {
	q.mu.RLock()
	defer q.mu.RUnlock()

	all := make([]Tube, 0, len(q.tubes))
	for _, t := range q.tubes {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name() == all[j].Name() {
			return all[i].Kind() < all[j].Kind()
		}
		return all[i].Name() < all[j].Name()
	})
	return all
}
