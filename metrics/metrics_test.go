package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tntqueue/tntqueue/client"
	"github.com/tntqueue/tntqueue/internal/fakequeue"
)

func TestSplitProcedure(t *testing.T) {
	tube, op := splitProcedure("queue.tube.jobs:put")
	assert.Equal(t, "jobs", tube)
	assert.Equal(t, "put", op)

	tube, op = splitProcedure("queue.tube.a:b:take")
	assert.Equal(t, "a:b", tube)
	assert.Equal(t, "take", op)

	tube, op = splitProcedure("queue.statistics")
	assert.Equal(t, "", tube)
	assert.Equal(t, "statistics", op)
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", result(nil))
	assert.Equal(t, "database_error", result(&client.DatabaseError{Code: 32}))
	assert.Equal(t, "network_error", result(&client.NetworkError{Err: errors.New("reset")}))
	assert.Equal(t, "error", result(client.ErrZeroTuple))
}

func TestObserveCall(t *testing.T) {
	c := New()
	c.ObserveCall("queue.tube.jobs:put", time.Millisecond, nil)
	c.ObserveCall("queue.tube.jobs:put", time.Millisecond, nil)
	c.ObserveCall("queue.tube.jobs:ack", time.Millisecond, &client.DatabaseError{Code: 32})

	assert.EqualValues(t, 2, testutil.ToFloat64(c.calls.WithLabelValues("jobs", "put", "ok")))
	assert.EqualValues(t, 1, testutil.ToFloat64(c.calls.WithLabelValues("jobs", "ack", "database_error")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.latency))
}

func TestHandler(t *testing.T) {
	srv := fakequeue.New()
	srv.CreateTube("jobs", client.KindFifo)

	c := New()
	q, err := client.New("127.0.0.1", 3301,
		client.WithConnector(srv.Connector()),
		client.WithObserver(c))
	require.NoError(t, err)
	c.Watch(q)

	tube := q.TubeFifo("jobs")
	for _, data := range []string{"foo", "bar"} {
		_, err := tube.Put(data)
		require.NoError(t, err)
	}
	_, err = tube.Take(0)
	require.NoError(t, err)
	q.TubeFifo("missing")

	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `tntqueue_calls_total{op="put",result="ok",tube="jobs"} 2`)
	assert.Contains(t, text, `tntqueue_calls_total{op="take",result="ok",tube="jobs"} 1`)
	assert.Contains(t, text, `tntqueue_tube_tasks{kind="fifo",status="ready",tube="jobs"} 1`)
	assert.Contains(t, text, `tntqueue_tube_tasks{kind="fifo",status="taken",tube="jobs"} 1`)
	assert.NotContains(t, text, `tube="missing"`)
}
