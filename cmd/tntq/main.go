package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/tntqueue/tntqueue"
	"github.com/tntqueue/tntqueue/cli"
	"github.com/tntqueue/tntqueue/client"
	"github.com/tntqueue/tntqueue/metrics"
	"github.com/tntqueue/tntqueue/util"
)

// tntq talks to a Tarantool queue from the terminal. Without
// arguments it starts an interactive shell, otherwise it runs the one
// command given, e.g. `tntq -u tcp://localhost:3301 put jobs hello`.
func main() {
	opts, args, err := cli.ParseArguments(os.Args[1:])
	if errors.Is(err, cli.ErrHelp) {
		return
	}
	if err != nil {
		fail(err)
	}
	if opts.ShowVersion {
		fmt.Println(versionMsg)
		return
	}

	util.InitLogger(opts.LogLevel)

	var extra []client.Option
	var collector *metrics.Collector
	if opts.MetricsBinding != "" {
		collector = metrics.New()
		extra = append(extra, client.WithObserver(collector))
	}

	q, err := opts.Open(extra...)
	if err != nil {
		fail(err)
	}
	defer q.Close()

	if collector != nil {
		collector.Watch(q)
		go serveMetrics(opts.MetricsBinding, collector)
	}

	sh := newShell(q, os.Stdout)
	if len(args) == 0 {
		repl(sh)
		return
	}

	go cli.HandleSignals(func() {
		q.Close()
		os.Exit(0)
	})
	if err := sh.execute(args); err != nil {
		fmt.Println(err)
		q.Close()
		os.Exit(-1)
	}
}

var versionMsg = fmt.Sprintf("%s %s", tntqueue.Name, tntqueue.Version)

func serveMetrics(binding string, collector *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              binding,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	util.Infof("Serving metrics at http://%s/metrics", binding)
	if err := srv.ListenAndServe(); err != nil {
		util.Error("Metrics listener stopped", err)
	}
}

func fail(err error) {
	fmt.Println(err.Error())
	os.Exit(-1)
}
