package client_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tntqueue/tntqueue/client"
	"github.com/tntqueue/tntqueue/internal/fakequeue"
)

func withQueue(t *testing.T, fn func(q *client.Queue, srv *fakequeue.Server)) {
	t.Helper()
	srv := fakequeue.New()
	srv.CreateTube("test_fifo", client.KindFifo)
	srv.CreateTube("test_fifottl", client.KindFifoTTL)

	q, err := client.New("127.0.0.1", 3301,
		client.WithCredentials("test", "test"),
		client.WithConnector(srv.Connector()))
	require.NoError(t, err)
	defer q.Close()

	fn(q, srv)
}

// Both variants must behave identically for plain puts.
func eachTube(t *testing.T, fn func(t *testing.T, tube client.Tube, put func(data interface{}) (*client.Task, error), srv *fakequeue.Server)) {
	t.Run("fifo", func(t *testing.T) {
		withQueue(t, func(q *client.Queue, srv *fakequeue.Server) {
			tube := q.TubeFifo("test_fifo")
			fn(t, tube, tube.Put, srv)
		})
	})
	t.Run("fifottl", func(t *testing.T) {
		withQueue(t, func(q *client.Queue, srv *fakequeue.Server) {
			tube := q.TubeFifoTTL("test_fifottl")
			fn(t, tube, func(data interface{}) (*client.Task, error) { return tube.Put(data) }, srv)
		})
	})
}

func take(t *testing.T, tube client.Tube) *client.Task {
	t.Helper()
	task, err := tube.Take(0)
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func assertEmpty(t *testing.T, tube client.Tube) {
	t.Helper()
	task, err := tube.Take(0)
	assert.NoError(t, err)
	assert.Nil(t, task)
}

func TestTasksOrder(t *testing.T) {
	eachTube(t, func(t *testing.T, tube client.Tube, put func(interface{}) (*client.Task, error), srv *fakequeue.Server) {
		var puts []*client.Task
		for _, data := range []string{"foo", "bar", "baz"} {
			task, err := put(data)
			require.NoError(t, err)
			puts = append(puts, task)
		}

		var taken []*client.Task
		for range puts {
			taken = append(taken, take(t, tube))
		}
		assertEmpty(t, tube)

		for i := range puts {
			assert.Equal(t, puts[i].ID, taken[i].ID)
			assert.Equal(t, puts[i].Data, taken[i].Data)
		}
		assert.Equal(t, "foo", taken[0].Data)
		assert.Equal(t, "baz", taken[2].Data)

		for _, task := range taken {
			ok, err := task.Ack()
			assert.NoError(t, err)
			assert.True(t, ok)
		}
		assertEmpty(t, tube)
	})
}

func TestTaskStatus(t *testing.T) {
	eachTube(t, func(t *testing.T, tube client.Tube, put func(interface{}) (*client.Task, error), srv *fakequeue.Server) {
		task, err := put("foo")
		require.NoError(t, err)
		assert.Equal(t, client.StatusReady, task.Status)
		assert.Equal(t, "ready", task.StatusName())
		assert.Same(t, tube, task.Tube())

		task = take(t, tube)
		assert.Equal(t, client.StatusTaken, task.Status)
		assert.Equal(t, "taken", task.StatusName())

		ok, err := task.Bury()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "buried", task.StatusName())

		kicked, err := tube.Kick(0)
		assert.NoError(t, err)
		assert.EqualValues(t, 1, kicked)

		task = take(t, tube)
		assert.Equal(t, client.StatusTaken, task.Status)

		ok, err = task.Ack()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, client.StatusDone, task.Status)
		assert.Equal(t, "done", task.StatusName())
	})
}

func TestTaskTakeTimeout(t *testing.T) {
	eachTube(t, func(t *testing.T, tube client.Tube, put func(interface{}) (*client.Task, error), srv *fakequeue.Server) {
		start := time.Now()
		task, err := tube.Take(100 * time.Millisecond)
		assert.NoError(t, err)
		assert.Nil(t, task)
		assert.True(t, time.Since(start) >= 100*time.Millisecond)
		assert.Equal(t, []interface{}{0.1}, srv.LastCall().Args)

		_, err = put("foo")
		require.NoError(t, err)
		task = take(t, tube)
		assert.Equal(t, client.StatusTaken, task.Status)
		assertEmpty(t, tube)

		ok, err := task.Ack()
		assert.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestTaskRelease(t *testing.T) {
	eachTube(t, func(t *testing.T, tube client.Tube, put func(interface{}) (*client.Task, error), srv *fakequeue.Server) {
		_, err := put("foo")
		require.NoError(t, err)

		task := take(t, tube)
		ok, err := task.Release()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, client.StatusReady, task.Status)

		task = take(t, tube)
		ok, err = task.Ack()
		assert.NoError(t, err)
		assert.True(t, ok)
		assertEmpty(t, tube)
	})
}

func TestTaskPeek(t *testing.T) {
	eachTube(t, func(t *testing.T, tube client.Tube, put func(interface{}) (*client.Task, error), srv *fakequeue.Server) {
		_, err := put("foo")
		require.NoError(t, err)

		task := take(t, tube)
		_, err = tube.Queue().Release(tube.Name(), task.ID, client.NoDelay)
		assert.NoError(t, err)
		// local copy is stale until refreshed
		assert.Equal(t, client.StatusTaken, task.Status)

		ok, err := task.Peek()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, client.StatusReady, task.Status)

		task = take(t, tube)
		ok, err = task.Ack()
		assert.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestTaskKick(t *testing.T) {
	eachTube(t, func(t *testing.T, tube client.Tube, put func(interface{}) (*client.Task, error), srv *fakequeue.Server) {
		for _, data := range []string{"foo", "bar", "baz"} {
			_, err := put(data)
			require.NoError(t, err)
		}
		for i := 0; i < 3; i++ {
			ok, err := take(t, tube).Bury()
			require.NoError(t, err)
			require.True(t, ok)
		}
		assertEmpty(t, tube)

		kicked, err := tube.Kick(2)
		assert.NoError(t, err)
		assert.EqualValues(t, 2, kicked)
		_, err = take(t, tube).Ack()
		assert.NoError(t, err)
		_, err = take(t, tube).Ack()
		assert.NoError(t, err)
		assertEmpty(t, tube)

		kicked, err = tube.Kick(2)
		assert.NoError(t, err)
		assert.EqualValues(t, 1, kicked)
		_, err = take(t, tube).Ack()
		assert.NoError(t, err)
		assertEmpty(t, tube)

		kicked, err = tube.Kick(1)
		assert.NoError(t, err)
		assert.EqualValues(t, 0, kicked)
	})
}

func TestTaskDelete(t *testing.T) {
	eachTube(t, func(t *testing.T, tube client.Tube, put func(interface{}) (*client.Task, error), srv *fakequeue.Server) {
		_, err := put("foo")
		require.NoError(t, err)

		task := take(t, tube)
		ok, err := task.Delete()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, client.StatusDone, task.Status)

		_, err = task.Ack()
		assert.True(t, client.IsDatabaseError(err))
		_, err = task.Bury()
		assert.True(t, client.IsDatabaseError(err))
		_, err = task.Release()
		assert.True(t, client.IsDatabaseError(err))
		assertEmpty(t, tube)

		ready, err := put("bar")
		require.NoError(t, err)
		ok, err = ready.Delete()
		assert.NoError(t, err)
		assert.True(t, ok)
		assertEmpty(t, tube)
	})
}

func TestTaskClose(t *testing.T) {
	eachTube(t, func(t *testing.T, tube client.Tube, put func(interface{}) (*client.Task, error), srv *fakequeue.Server) {
		task, err := put("foo")
		require.NoError(t, err)
		calls := len(srv.Calls())
		task.Close()
		assert.Len(t, srv.Calls(), calls, "ready task must not be released")

		task = take(t, tube)
		task.Close()
		assert.Equal(t, client.StatusReady, task.Status)

		task = take(t, tube)
		srv.FailNext(&client.DatabaseError{Code: 32, Msg: "Task was not taken"})
		task.Close()
		srv.FailNext(&client.NetworkError{Err: errors.New("broken pipe")})
		task.Close()
		assert.Equal(t, client.StatusTaken, task.Status)

		ok, err := task.Ack()
		assert.NoError(t, err)
		assert.True(t, ok)
		assertEmpty(t, tube)
	})
}

func TestProcess(t *testing.T) {
	eachTube(t, func(t *testing.T, tube client.Tube, put func(interface{}) (*client.Task, error), srv *fakequeue.Server) {
		took, err := tube.Process(0, func(*client.Task) error {
			t.Fatal("no task expected")
			return nil
		})
		assert.NoError(t, err)
		assert.False(t, took)

		_, err = put("foo")
		require.NoError(t, err)

		boom := errors.New("boom")
		took, err = tube.Process(0, func(task *client.Task) error {
			assert.Equal(t, "foo", task.Data)
			return boom
		})
		assert.True(t, took)
		assert.Equal(t, boom, err)

		// the abandoned task went back to ready
		took, err = tube.Process(0, func(task *client.Task) error {
			_, err := task.Ack()
			return err
		})
		assert.True(t, took)
		assert.NoError(t, err)
		assertEmpty(t, tube)
	})
}

func TestDrop(t *testing.T) {
	withQueue(t, func(q *client.Queue, srv *fakequeue.Server) {
		tube := q.TubeFifo("test_fifo")
		_, err := tube.Put("foo")
		require.NoError(t, err)
		task := take(t, tube)

		_, err = tube.Drop()
		assert.True(t, client.IsDatabaseError(err))

		_, err = task.Ack()
		assert.NoError(t, err)
		ok, err := tube.Drop()
		assert.NoError(t, err)
		assert.True(t, ok)

		_, err = tube.Put("foo")
		assert.True(t, client.IsDatabaseError(err))
	})
}

func TestTubeStatistics(t *testing.T) {
	withQueue(t, func(q *client.Queue, srv *fakequeue.Server) {
		tube := q.TubeFifo("test_fifo")
		for _, data := range []string{"foo", "bar"} {
			_, err := tube.Put(data)
			require.NoError(t, err)
		}
		take(t, tube)

		stats, err := tube.Statistics()
		require.NoError(t, err)
		tasks := stats["tasks"].(map[string]interface{})
		assert.EqualValues(t, 1, tasks["ready"])
		assert.EqualValues(t, 1, tasks["taken"])
		assert.EqualValues(t, 2, tasks["total"])

		_, err = q.TubeFifo("missing").Statistics()
		assert.ErrorIs(t, err, client.ErrZeroTuple)
	})
}

type job struct {
	Kind  string `msgpack:"kind"`
	Count int    `msgpack:"count"`
}

func TestTaskDecode(t *testing.T) {
	withQueue(t, func(q *client.Queue, srv *fakequeue.Server) {
		tube := q.TubeFifo("test_fifo")
		task, err := tube.Put(map[string]interface{}{"kind": "mail", "count": 3})
		require.NoError(t, err)

		var j job
		assert.NoError(t, task.Decode(&j))
		assert.Equal(t, job{Kind: "mail", Count: 3}, j)

		var list []int
		task, err = tube.Put([]interface{}{1, 2, 3})
		require.NoError(t, err)
		assert.NoError(t, task.Decode(&list))
		assert.Equal(t, []int{1, 2, 3}, list)

		var n int
		assert.Error(t, task.Decode(&n))
	})
}

func TestPutZeroTuple(t *testing.T) {
	q, err := client.New("127.0.0.1", 3301, client.WithConnector(client.ConnectorFunc(
		func(string, int, client.Credentials) (client.Conn, error) { return emptyConn{}, nil })))
	require.NoError(t, err)

	_, err = q.TubeFifo("jobs").Put("foo")
	assert.ErrorIs(t, err, client.ErrZeroTuple)
	_, err = q.TubeFifoTTL("jobs").Put("foo", client.WithTTL(time.Second))
	assert.ErrorIs(t, err, client.ErrZeroTuple)

	task, err := q.TubeFifo("jobs").Take(0)
	assert.NoError(t, err)
	assert.Nil(t, task)
}

type emptyConn struct{}

func (emptyConn) Call(string, []interface{}) (*client.Result, error) { return &client.Result{}, nil }
func (emptyConn) Close() error                                       { return nil }
