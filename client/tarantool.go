package client

import (
	"errors"
	"net"
	"strconv"
	"time"

	tarantool "github.com/tarantool/go-tarantool"
)

const (
	DefaultReconnect     = time.Second
	DefaultMaxReconnects = 10
)

// DefaultConnector dials Tarantool over its binary protocol.
// Queues use it unless another Connector is configured. It lets
// go-tarantool reconnect in the background after the server restarts;
// once the attempts run out the Queue drops the connection and the
// next call dials again.
var DefaultConnector Connector = &IprotoConnector{
	Reconnect:     DefaultReconnect,
	MaxReconnects: DefaultMaxReconnects,
}

// IprotoConnector creates go-tarantool connections.
type IprotoConnector struct {
	// Timeout bounds each request when non-zero. Leave it zero if
	// consumers take with timeouts longer than any fixed bound.
	Timeout time.Duration
	// Reconnect is the pause between reconnect attempts, zero disables
	// reconnecting.
	Reconnect     time.Duration
	MaxReconnects uint
}

func (ic *IprotoConnector) Connect(host string, port int, creds Credentials) (Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := tarantool.Connect(addr, tarantool.Opts{
		Timeout:       ic.Timeout,
		Reconnect:     ic.Reconnect,
		MaxReconnects: ic.MaxReconnects,
		User:          creds.User,
		Pass:          creds.Password,
	})
	if err != nil {
		return nil, wrapError(err)
	}
	return &iprotoConn{conn: conn}, nil
}

type iprotoConn struct {
	conn *tarantool.Connection
}

func (c *iprotoConn) Call(procedure string, args []interface{}) (*Result, error) {
	if args == nil {
		// IPROTO wants an array, never nil
		args = []interface{}{}
	}
	resp, err := c.conn.Call(procedure, args)
	if err != nil {
		return nil, wrapError(err)
	}
	return toResult(resp.Code, resp.Data), nil
}

// Closed reports a connection go-tarantool has given up on.
func (c *iprotoConn) Closed() bool {
	return c.conn.ClosedNow()
}

func (c *iprotoConn) Close() error {
	return c.conn.Close()
}

func toResult(code uint32, data []interface{}) *Result {
	res := &Result{Code: code, Rows: make([][]interface{}, 0, len(data))}
	for _, item := range data {
		row, ok := item.([]interface{})
		if !ok {
			row = []interface{}{item}
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

// wrapError sorts go-tarantool failures into server rejections
// and everything else, which is treated as a network problem.
func wrapError(err error) error {
	var tntErr tarantool.Error
	if errors.As(err, &tntErr) {
		return &DatabaseError{Code: tntErr.Code, Msg: tntErr.Msg}
	}
	var tntErrPtr *tarantool.Error
	if errors.As(err, &tntErrPtr) && tntErrPtr != nil {
		return &DatabaseError{Code: tntErrPtr.Code, Msg: tntErrPtr.Msg}
	}
	return &NetworkError{Err: err}
}
