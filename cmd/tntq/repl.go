package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tntqueue/tntqueue/client"
	"github.com/tntqueue/tntqueue/util"
)

const helpMsg = `Valid commands:

use <tube> [fifo|fifottl]	select the tube for later commands, default kind fifo
put <data> [ttl=D] [ttr=D] [pri=N] [delay=D]
				enqueue data, options need a fifottl tube
take [timeout]			take a task, waiting up to timeout (e.g. 5s), default no wait
ack <id>
release <id> [delay]
peek <id>
bury <id>
delete <id>
kick [count]			restore buried tasks, default 1
drop				remove the current tube
stats				tube statistics
tubes				list the tubes used in this session
version
help`

type shell struct {
	queue *client.Queue
	tube  client.Tube
	out   io.Writer
}

func newShell(q *client.Queue, out io.Writer) *shell {
	sh := &shell{queue: q, out: out}
	if tubes := q.Tubes(); len(tubes) > 0 {
		sh.tube = tubes[0]
	}
	return sh
}

func repl(sh *shell) {
	fmt.Fprintf(sh.out, "%s, connected to %s:%d\n", versionMsg, sh.queue.Host(), sh.queue.Port())

	var completer = readline.NewPrefixCompleter(
		readline.PcItem("use", readline.PcItem("fifo"), readline.PcItem("fifottl")),
		readline.PcItem("put"),
		readline.PcItem("take"),
		readline.PcItem("ack"),
		readline.PcItem("release"),
		readline.PcItem("peek"),
		readline.PcItem("bury"),
		readline.PcItem("delete"),
		readline.PcItem("kick"),
		readline.PcItem("drop"),
		readline.PcItem("stats"),
		readline.PcItem("tubes"),
		readline.PcItem("version"),
		readline.PcItem("exit"),
		readline.PcItem("help"),
	)

	l, err := readline.NewEx(&readline.Config{
		Prompt:          sh.prompt(),
		HistoryFile:     historyFilePath(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()

	log.SetOutput(l.Stderr())
	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			} else {
				continue
			}
		} else if err == io.EOF {
			fmt.Fprintln(sh.out, "")
			break
		}

		cmd := strings.Fields(line)
		if len(cmd) == 0 {
			continue
		}
		if cmd[0] == "exit" || cmd[0] == "quit" {
			break
		}

		if err := sh.execute(cmd); err != nil {
			fmt.Fprintln(sh.out, err)
		}
		l.SetPrompt(sh.prompt())
	}
}

func (sh *shell) prompt() string {
	if sh.tube == nil {
		return "> "
	}
	return sh.tube.Name() + "> "
}

func (sh *shell) execute(cmd []string) error {
	first, args := cmd[0], cmd[1:]
	switch first {
	case "exit", "quit":
		return nil
	case "version":
		fmt.Fprintln(sh.out, versionMsg)
		return nil
	case "help":
		fmt.Fprintln(sh.out, helpMsg)
		return nil
	case "use":
		return sh.use(args)
	case "tubes":
		for _, t := range sh.queue.Tubes() {
			fmt.Fprintf(sh.out, "%s\t%s\n", t.Name(), t.Kind())
		}
		return nil
	}

	if sh.tube == nil {
		return fmt.Errorf("No tube selected, try: use <tube>")
	}
	switch first {
	case "put":
		return sh.put(args)
	case "take":
		return sh.take(args)
	case "ack":
		return sh.settle(args, sh.queue.Ack)
	case "peek":
		return sh.settle(args, sh.queue.Peek)
	case "bury":
		return sh.settle(args, sh.queue.Bury)
	case "delete":
		return sh.settle(args, sh.queue.Delete)
	case "release":
		return sh.release(args)
	case "kick":
		return sh.kick(args)
	case "drop":
		return sh.drop()
	case "stats":
		return sh.stats()
	default:
		return fmt.Errorf("Unknown command: %v", cmd)
	}
}

func (sh *shell) use(args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("Usage: use <tube> [fifo|fifottl]")
	}
	kind := client.KindFifo
	if len(args) == 2 {
		kind = client.TubeKind(args[1])
	}
	t, err := sh.queue.Tube(kind, args[0])
	if err != nil {
		return err
	}
	sh.tube = t
	return nil
}

func (sh *shell) put(args []string) error {
	var data []string
	var opts []client.PutOption
	for _, arg := range args {
		key, val, found := strings.Cut(arg, "=")
		if !found {
			data = append(data, arg)
			continue
		}
		opt, err := putOption(key, val)
		if err != nil {
			return err
		}
		if opt == nil {
			data = append(data, arg)
			continue
		}
		opts = append(opts, opt)
	}
	if len(data) == 0 {
		return fmt.Errorf("Usage: put <data> [ttl=D] [ttr=D] [pri=N] [delay=D]")
	}
	payload := strings.Join(data, " ")

	var task *client.Task
	var err error
	switch t := sh.tube.(type) {
	case *client.FifoTTLTube:
		task, err = t.Put(payload, opts...)
	case *client.FifoTube:
		if len(opts) > 0 {
			return fmt.Errorf("Options need a fifottl tube")
		}
		task, err = t.Put(payload)
	default:
		return fmt.Errorf("Cannot put to %s", sh.tube.Name())
	}
	if err != nil {
		return err
	}
	sh.printTask(task)
	return nil
}

// putOption returns nil for keys which are not options, so
// payloads like "a=b" still work.
func putOption(key, val string) (client.PutOption, error) {
	switch key {
	case "pri":
		pri, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("Invalid priority %q", val)
		}
		return client.WithPriority(pri), nil
	case "ttl", "ttr", "delay":
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("Invalid %s %q: %v", key, val, err)
		}
		switch key {
		case "ttl":
			return client.WithTTL(d), nil
		case "ttr":
			return client.WithTTR(d), nil
		default:
			return client.WithDelay(d), nil
		}
	}
	return nil, nil
}

func (sh *shell) take(args []string) error {
	timeout := time.Duration(0)
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("Invalid timeout %q: %v", args[0], err)
		}
		timeout = d
	}
	task, err := sh.tube.Take(timeout)
	if err != nil {
		return err
	}
	if task == nil {
		fmt.Fprintln(sh.out, "No task")
		return nil
	}
	sh.printTask(task)
	return nil
}

func (sh *shell) settle(args []string, op func(tube string, id interface{}) (*client.Result, error)) error {
	id, err := taskID(args)
	if err != nil {
		return err
	}
	res, err := op(sh.tube.Name(), id)
	if err != nil {
		return err
	}
	return sh.printRow(res)
}

func (sh *shell) release(args []string) error {
	id, err := taskID(args)
	if err != nil {
		return err
	}
	delay := client.NoDelay
	if len(args) > 1 {
		delay, err = time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("Invalid delay %q: %v", args[1], err)
		}
	}
	res, err := sh.queue.Release(sh.tube.Name(), id, delay)
	if err != nil {
		return err
	}
	return sh.printRow(res)
}

func (sh *shell) kick(args []string) error {
	count := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("Invalid count %q", args[0])
		}
		count = n
	}
	n, err := sh.tube.Kick(count)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Kicked %d\n", n)
	return nil
}

func (sh *shell) drop() error {
	ok, err := sh.tube.Drop()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("Tube %s was not dropped", sh.tube.Name())
	}
	fmt.Fprintln(sh.out, "OK")
	return nil
}

func (sh *shell) stats() error {
	stats, err := sh.tube.Statistics()
	if err != nil {
		return err
	}
	printMap(sh.out, "", stats)
	return nil
}

func printMap(out io.Writer, prefix string, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if sub, ok := m[k].(map[string]interface{}); ok {
			printMap(out, prefix+k+".", sub)
			continue
		}
		fmt.Fprintf(out, "%s%s: %v\n", prefix, k, m[k])
	}
}

func taskID(args []string) (uint64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("Task id required")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("Invalid task id %q", args[0])
	}
	return id, nil
}

func (sh *shell) printTask(task *client.Task) {
	fmt.Fprintf(sh.out, "%s %v\n", task, task.Data)
}

func (sh *shell) printRow(res *client.Result) error {
	row := res.First()
	if len(row) < 2 {
		return fmt.Errorf("%w: no task in response", client.ErrZeroTuple)
	}
	status := client.Status(fmt.Sprint(row[1]))
	var data interface{}
	if len(row) > 2 {
		data = row[2]
	}
	fmt.Fprintf(sh.out, "Task (id: %v, status: %s) %v\n", row[0], status.Name(), data)
	return nil
}

// historyFilePath returns the path of the history file
// $HOME/.local/.tntq.history
// if the .local folder does not exists, it will create it.
func historyFilePath() string {
	usr, err := user.Current()
	if err != nil {
		return ""
	}
	dir := usr.HomeDir + "/.local"
	historyFilePath := dir + "/.tntq.history"

	exists, err := util.FileExists(historyFilePath)
	if err != nil {
		return ""
	}

	if !exists {
		err = os.MkdirAll(dir, 0755)
		if err != nil {
			util.Error("Unable to create $HOME/.local dir", err)
			return ""
		}
	}

	return historyFilePath
}
