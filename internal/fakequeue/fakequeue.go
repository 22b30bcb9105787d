// Package fakequeue is an in-memory stand-in for a Tarantool server
// running the queue module with fifo and fifottl tubes. It speaks the
// client.Conn contract so tests can exercise the whole client without
// a database.
package fakequeue

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tntqueue/tntqueue/client"
)

const (
	errProcLua    = 32
	errNoSuchProc = 33

	pollInterval = 5 * time.Millisecond
)

// Call is one recorded remote call.
type Call struct {
	Procedure string
	Args      []interface{}
}

type task struct {
	id      uint64
	seq     uint64
	status  client.Status
	data    interface{}
	pri     int
	created time.Time
	ttl     time.Duration
	hasTTL  bool
	ttr     time.Duration
	hasTTR  bool
	readyAt time.Time
	takenAt time.Time
}

type tube struct {
	name  string
	kind  client.TubeKind
	tasks map[uint64]*task
	calls map[string]uint64
}

// Server holds every tube and task. Time moves with the wall clock
// plus whatever Advance added.
type Server struct {
	mu       sync.Mutex
	offset   time.Duration
	nextID   uint64
	tubes    map[string]*tube
	calls    []Call
	connects int
	failures []error
}

func New() *Server {
	return &Server{tubes: map[string]*tube{}}
}

// CreateTube declares a tube the way queue.create_tube does.
func (s *Server) CreateTube(name string, kind client.TubeKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tubes[name] = &tube{name: name, kind: kind, tasks: map[uint64]*task{}, calls: map[string]uint64{}}
}

// Advance moves the server clock forward.
func (s *Server) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset += d
}

// FailNext makes the next call return err instead of reaching a tube.
func (s *Server) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Server) LastCall() Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return Call{}
	}
	return s.calls[len(s.calls)-1]
}

func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Len counts the live tasks of a tube.
func (s *Server) Len(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tubes[name]
	if !ok {
		return 0
	}
	s.tick(t)
	return len(t.tasks)
}

// Connector returns a client.Connector which hands out connections
// to s, counting each one.
func (s *Server) Connector() client.Connector {
	return client.ConnectorFunc(func(host string, port int, creds client.Credentials) (client.Conn, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.connects++
		return &Conn{srv: s}, nil
	})
}

// Conn is a client.Conn bound to a Server.
type Conn struct {
	srv    *Server
	mu     sync.Mutex
	closed bool
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Call(procedure string, args []interface{}) (*client.Result, error) {
	if c.Closed() {
		return nil, &client.NetworkError{Err: errors.New("connection is closed")}
	}
	return c.srv.call(procedure, args)
}

func (s *Server) now() time.Time {
	return time.Now().Add(s.offset)
}

func (s *Server) call(procedure string, args []interface{}) (*client.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Procedure: procedure, Args: args})
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	if procedure == "queue.statistics" {
		return s.statistics(args)
	}

	name, op, ok := parseProcedure(procedure)
	if !ok {
		return nil, dbError(errNoSuchProc, "Procedure '%s' is not defined", procedure)
	}
	if op == "take" {
		return s.take(name, args)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tubes[name]
	if !ok {
		return nil, dbError(errProcLua, "attempt to index field '%s' (a nil value)", name)
	}
	t.calls[op]++
	s.tick(t)

	switch op {
	case "put":
		return s.put(t, args)
	case "ack":
		return s.ack(t, args)
	case "release":
		return s.release(t, args)
	case "peek":
		return s.peek(t, args)
	case "bury":
		return s.bury(t, args)
	case "kick":
		return s.kick(t, args)
	case "delete":
		return s.delete(t, args)
	case "drop":
		return s.drop(t)
	}
	return nil, dbError(errNoSuchProc, "Procedure '%s' is not defined", procedure)
}

func parseProcedure(procedure string) (string, string, bool) {
	rest, ok := strings.CutPrefix(procedure, "queue.tube.")
	if !ok {
		return "", "", false
	}
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func (s *Server) put(t *tube, args []interface{}) (*client.Result, error) {
	if len(args) == 0 {
		return nil, dbError(errProcLua, "put: missing task data")
	}
	s.nextID++
	now := s.now()
	tk := &task{
		id:      s.nextID - 1,
		seq:     s.nextID,
		status:  client.StatusReady,
		data:    args[0],
		created: now,
	}

	if t.kind == client.KindFifoTTL && len(args) > 1 {
		opts, ok := args[1].(map[string]interface{})
		if !ok {
			return nil, dbError(errProcLua, "put: options must be a map")
		}
		if v, ok := opts["ttl"]; ok {
			tk.ttl, tk.hasTTL = seconds(v), true
		}
		if v, ok := opts["ttr"]; ok {
			tk.ttr, tk.hasTTR = seconds(v), true
		}
		if v, ok := opts["pri"]; ok {
			tk.pri = int(number(v))
		}
		if v, ok := opts["delay"]; ok {
			if d := seconds(v); d > 0 {
				tk.status = client.StatusDelayed
				tk.readyAt = now.Add(d)
				// ttl runs from the moment the task becomes ready
				tk.created = tk.readyAt
			}
		}
	}
	if tk.hasTTL && !tk.hasTTR {
		tk.ttr, tk.hasTTR = tk.ttl, true
	}

	t.tasks[tk.id] = tk
	s.tick(t)
	if _, alive := t.tasks[tk.id]; !alive {
		tk.status = client.StatusDone
	}
	return rows(tk), nil
}

func (s *Server) take(name string, args []interface{}) (*client.Result, error) {
	wait := time.Duration(-1)
	if len(args) > 0 {
		wait = seconds(args[0])
	}
	deadline := time.Now().Add(wait)

	for {
		s.mu.Lock()
		t, ok := s.tubes[name]
		if !ok {
			s.mu.Unlock()
			return nil, dbError(errProcLua, "attempt to index field '%s' (a nil value)", name)
		}
		t.calls["take"]++
		s.tick(t)
		if tk := next(t); tk != nil {
			tk.status = client.StatusTaken
			tk.takenAt = s.now()
			res := rows(tk)
			s.mu.Unlock()
			return res, nil
		}
		s.mu.Unlock()

		if wait >= 0 && !time.Now().Before(deadline) {
			return &client.Result{}, nil
		}
		time.Sleep(pollInterval)
	}
}

func next(t *tube) *task {
	var best *task
	for _, tk := range t.tasks {
		if tk.status != client.StatusReady {
			continue
		}
		if best == nil || tk.pri < best.pri || (tk.pri == best.pri && tk.seq < best.seq) {
			best = tk
		}
	}
	return best
}

func (s *Server) lookup(t *tube, args []interface{}) (*task, error) {
	if len(args) == 0 {
		return nil, dbError(errProcLua, "task id is required")
	}
	id, ok := toID(args[0])
	if !ok {
		return nil, dbError(errProcLua, "bad task id %v", args[0])
	}
	tk, ok := t.tasks[id]
	if !ok {
		return nil, dbError(errProcLua, "Task %d not found", id)
	}
	return tk, nil
}

func (s *Server) ack(t *tube, args []interface{}) (*client.Result, error) {
	tk, err := s.lookup(t, args)
	if err != nil {
		return nil, err
	}
	if tk.status != client.StatusTaken {
		return nil, dbError(errProcLua, "Task was not taken")
	}
	delete(t.tasks, tk.id)
	tk.status = client.StatusDone
	return rows(tk), nil
}

func (s *Server) release(t *tube, args []interface{}) (*client.Result, error) {
	tk, err := s.lookup(t, args)
	if err != nil {
		return nil, err
	}
	if tk.status != client.StatusTaken {
		return nil, dbError(errProcLua, "Task was not taken")
	}
	tk.status = client.StatusReady
	tk.takenAt = time.Time{}
	if len(args) > 1 && t.kind == client.KindFifoTTL {
		if opts, ok := args[1].(map[string]interface{}); ok {
			if d := seconds(opts["delay"]); d > 0 {
				tk.status = client.StatusDelayed
				tk.readyAt = s.now().Add(d)
			}
		}
	}
	return rows(tk), nil
}

func (s *Server) peek(t *tube, args []interface{}) (*client.Result, error) {
	tk, err := s.lookup(t, args)
	if err != nil {
		return nil, err
	}
	return rows(tk), nil
}

func (s *Server) bury(t *tube, args []interface{}) (*client.Result, error) {
	tk, err := s.lookup(t, args)
	if err != nil {
		return nil, err
	}
	tk.status = client.StatusBuried
	return rows(tk), nil
}

func (s *Server) kick(t *tube, args []interface{}) (*client.Result, error) {
	count := 1
	if len(args) > 0 {
		count = int(number(args[0]))
	}
	buried := make([]*task, 0)
	for _, tk := range t.tasks {
		if tk.status == client.StatusBuried {
			buried = append(buried, tk)
		}
	}
	sort.Slice(buried, func(i, j int) bool { return buried[i].seq < buried[j].seq })
	kicked := uint64(0)
	for _, tk := range buried {
		if int(kicked) >= count {
			break
		}
		tk.status = client.StatusReady
		kicked++
	}
	return &client.Result{Rows: [][]interface{}{{kicked}}}, nil
}

func (s *Server) delete(t *tube, args []interface{}) (*client.Result, error) {
	tk, err := s.lookup(t, args)
	if err != nil {
		return nil, err
	}
	delete(t.tasks, tk.id)
	tk.status = client.StatusDone
	return rows(tk), nil
}

func (s *Server) drop(t *tube) (*client.Result, error) {
	for _, tk := range t.tasks {
		if tk.status == client.StatusTaken {
			return nil, dbError(errProcLua, "There are taken tasks in the tube")
		}
	}
	delete(s.tubes, t.name)
	return &client.Result{Code: 0, Rows: [][]interface{}{{true}}}, nil
}

func (s *Server) statistics(args []interface{}) (*client.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(args) == 0 {
		all := map[interface{}]interface{}{}
		for name, t := range s.tubes {
			all[name] = s.tubeStats(t)
		}
		return &client.Result{Rows: [][]interface{}{{all}}}, nil
	}
	name, _ := args[0].(string)
	t, ok := s.tubes[name]
	if !ok {
		return &client.Result{}, nil
	}
	return &client.Result{Rows: [][]interface{}{{s.tubeStats(t)}}}, nil
}

func (s *Server) tubeStats(t *tube) map[interface{}]interface{} {
	s.tick(t)

	counts := map[interface{}]interface{}{
		"ready": uint64(0), "taken": uint64(0), "done": uint64(0),
		"buried": uint64(0), "delayed": uint64(0), "total": uint64(len(t.tasks)),
	}
	for _, tk := range t.tasks {
		key := tk.status.Name()
		counts[key] = counts[key].(uint64) + 1
	}
	calls := map[interface{}]interface{}{}
	for op, n := range t.calls {
		calls[op] = n
	}
	return map[interface{}]interface{}{"tasks": counts, "calls": calls}
}

// tick applies every time based transition due by now.
func (s *Server) tick(t *tube) {
	now := s.now()
	for id, tk := range t.tasks {
		if tk.status == client.StatusDelayed && !now.Before(tk.readyAt) {
			tk.status = client.StatusReady
		}
		if tk.status == client.StatusTaken && tk.hasTTR && !now.Before(tk.takenAt.Add(tk.ttr)) {
			tk.status = client.StatusReady
		}
		if tk.hasTTL && tk.status != client.StatusTaken && !now.Before(tk.created.Add(tk.ttl)) {
			delete(t.tasks, id)
		}
	}
}

func rows(tk *task) *client.Result {
	return &client.Result{Rows: [][]interface{}{{tk.id, string(tk.status), tk.data}}}
}

func dbError(code uint32, format string, args ...interface{}) error {
	return &client.DatabaseError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case uint32:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}

func seconds(v interface{}) time.Duration {
	return time.Duration(math.Round(number(v) * float64(time.Second)))
}

func toID(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case uint32:
		return uint64(n), true
	case float64:
		return uint64(n), n >= 0 && n == math.Trunc(n)
	}
	return 0, false
}
