// Command taskvm runs built-in resident applications as concurrent tasks on
// the task runtime and reports how each of them terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/criyle/go-taskrt/config"
	"github.com/criyle/go-taskrt/kernel"
	"github.com/criyle/go-taskrt/pkg/pipe"
	"github.com/criyle/go-taskrt/task"
	"github.com/criyle/go-taskrt/types"
)

var (
	configURL, taskType string
	showDetails, trace  bool
	heapSize, stackSize types.Size
	timeout             time.Duration
	args                []string
)

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options] <app[:arg,...]>...\n", os.Args[0])
	fmt.Fprintf(flag.CommandLine.Output(), "Apps: %s\n", strings.Join(appNames(), ", "))
	flag.PrintDefaults()
	os.Exit(2)
}

func debug(v ...interface{}) {
	if showDetails {
		fmt.Fprintln(os.Stderr, v...)
	}
}

func main() {
	flag.Usage = printUsage
	flag.StringVar(&configURL, "config", "", "Load configuration from URL (path, file://, mem://)")
	flag.StringVar(&taskType, "type", "rom", "Set the task type (rom, elf)")
	flag.BoolVar(&showDetails, "v", false, "Show kernel log and task details")
	flag.BoolVar(&trace, "trace", false, "Write lifecycle spans to stderr")
	flag.Var(&heapSize, "heap", "Set heap size of every task (e.g. 64k)")
	flag.Var(&stackSize, "stack", "Set stack size of every task (e.g. 16k)")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "Kill tasks still running after timeout")
	flag.Parse()

	args = flag.Args()
	if len(args) == 0 {
		printUsage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "taskvm:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	conf := config.Default()
	if configURL != "" {
		var err error
		if conf, err = config.Load(ctx, configURL); err != nil {
			return err
		}
	}
	typ, err := task.ParseType(taskType)
	if err != nil {
		return err
	}

	opts, err := conf.KernelOptions()
	if err != nil {
		return err
	}
	if showDetails {
		opts.Logger = log.New(os.Stderr, "", log.Lmicroseconds)
	}
	if trace {
		tp, err := newTracerProvider(os.Stderr)
		if err != nil {
			return err
		}
		defer tp.Shutdown(context.Background())
		opts.TracerProvider = tp
	}

	console := pipe.New(int64(conf.ConsoleLimit.Byte()))
	opts.Mounts = append(opts.Mounts, task.Mount{Prefix: "/dev/", Driver: console})
	release, err := mountFiles(ctx, conf, &opts)
	if err != nil {
		return err
	}
	defer release()

	m, err := kernel.New(opts)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := m.Close(cctx); err != nil {
			debug("close:", err)
		}
	}()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]string, len(args))
	)
	for i, a := range args {
		name, argv := parseApp(a)
		img, ok := apps[name]
		if !ok {
			return fmt.Errorf("unknown app %q", name)
		}
		pid, err := m.Spawn(ctx, img, kernel.SpawnOptions{
			Type:      typ,
			Argv:      argv,
			HeapSize:  heapSize.Byte(),
			StackSize: stackSize.Byte(),
		})
		if err != nil {
			results[i] = fmt.Sprintf("%-8s spawn failed: %v", name, err)
			continue
		}
		if info, err := m.Lookup(pid); err == nil {
			debug(info)
		}
		wg.Add(1)
		go func(i, pid int, name string) {
			defer wg.Done()
			r := wait(ctx, m, pid)
			mu.Lock()
			defer mu.Unlock()
			results[i] = fmt.Sprintf("%-8s pid=%-3d %v", name, pid, r)
			for _, l := range r.Leaked {
				results[i] += fmt.Sprintf("\n         leaked %s #%d", l.Kind, l.Key)
			}
		}(i, pid, name)
	}
	wg.Wait()

	for _, r := range results {
		fmt.Println(r)
	}
	for _, n := range console.Names() {
		if out := console.Drain(n); len(out) > 0 {
			fmt.Printf("--- /dev/%s\n", n)
			os.Stdout.Write(out)
		}
	}
	debug(m.Pool())
	return nil
}

// wait collects the result of pid, killing it once timeout passed
func wait(ctx context.Context, m *kernel.Manager, pid int) types.Result {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	r, err := m.Wait(wctx, pid)
	if err == nil {
		return r
	}
	debug("kill", pid, err)
	kctx, kcancel := context.WithTimeout(context.Background(), time.Second)
	defer kcancel()
	if err := m.Kill(kctx, pid); err != nil {
		debug("kill", pid, err)
	}
	if r, err = m.Wait(kctx, pid); err != nil {
		return types.Result{Status: types.StatusRunnerError, Error: err.Error()}
	}
	return r
}

// parseApp splits "name:a,b" into the app name and its argv
func parseApp(s string) (string, []string) {
	name, rest, _ := strings.Cut(s, ":")
	argv := []string{name}
	if rest != "" {
		argv = append(argv, strings.Split(rest, ",")...)
	}
	return name, argv
}
