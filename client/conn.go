package client

import (
	"reflect"
	"sync"
)

// Conn is the remote-call capability: it invokes a named stored
// procedure on the server with positional arguments and hands back
// the decoded row-set. Implementations must be safe for concurrent use,
// the Queue dispatches calls from many goroutines on one Conn.
type Conn interface {
	Call(procedure string, args []interface{}) (*Result, error)
	Close() error
}

// Connector constructs a Conn for the given address and credentials.
// A Queue calls it at most once per cached handle.
type Connector interface {
	Connect(host string, port int, creds Credentials) (Conn, error)
}

// ConnectorFunc adapts a plain function to the Connector interface.
type ConnectorFunc func(host string, port int, creds Credentials) (Conn, error)

func (fn ConnectorFunc) Connect(host string, port int, creds Credentials) (Conn, error) {
	return fn(host, port, creds)
}

type Credentials struct {
	User     string
	Password string
}

func (c Credentials) String() string {
	if c.User == "" {
		return "guest"
	}
	return c.User
}

// Result is a decoded response: a return code and the returned rows.
// Queue procedures return rows shaped (task_id, status, payload).
type Result struct {
	Code uint32
	Rows [][]interface{}
}

func (r *Result) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// First returns the first row, or nil when there is none.
func (r *Result) First() []interface{} {
	if r.RowCount() == 0 {
		return nil
	}
	return r.Rows[0]
}

// usable rejects interface values which hold a nil pointer or
// nil func: they satisfy the interface but cannot be called.
func usable(v interface{}) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface, reflect.Slice:
		return !rv.IsNil()
	}
	return true
}

func defaultLocker() sync.Locker {
	return &sync.Mutex{}
}
