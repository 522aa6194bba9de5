package main

import (
	"context"
	"sort"
	"strings"

	"github.com/criyle/go-taskrt/kernel"
	"github.com/criyle/go-taskrt/task"
	"golang.org/x/sys/unix"
)

// apps are the resident applications taskvm can spawn
var apps = map[string]kernel.Image{
	"hello":   {Name: "hello", Entry: hello},
	"leaky":   {Name: "leaky", Entry: leaky},
	"fdhog":   {Name: "fdhog", Entry: fdhog},
	"hog":     {Name: "hog", Entry: hog, MinHeap: 16 << 10},
	"crash":   {Name: "crash", Entry: crash},
	"cat":     {Name: "cat", Entry: cat},
	"sleeper": {Name: "sleeper", Entry: sleeper},
}

func appNames() []string {
	names := make([]string, 0, len(apps))
	for n := range apps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// hello writes its arguments to the console
func hello(ctx context.Context, argv []string) int {
	t := task.FromContext(ctx)
	fd, err := t.Open("/dev/console", unix.O_WRONLY)
	if err != nil {
		return 1
	}
	defer t.Close(fd)
	msg := "hello"
	if len(argv) > 1 {
		msg += ", " + strings.Join(argv[1:], " ")
	}
	if _, err := t.Write(fd, []byte(msg+"\n")); err != nil {
		return 1
	}
	return 0
}

// leaky exits with a conversion descriptor, a compiled expression and an
// unflushed stream still open
func leaky(ctx context.Context, argv []string) int {
	t := task.FromContext(ctx)
	if _, err := t.IconvOpen("ASCII", "UTF-8"); err != nil {
		return 1
	}
	if _, err := t.Regcomp("^task[0-9]+$"); err != nil {
		return 1
	}
	s, err := t.Fopen("/dev/leaky", "w")
	if err != nil {
		return 1
	}
	if _, err := t.Fwrite(s, []byte("flushed at teardown\n")); err != nil {
		return 1
	}
	return 0
}

// fdhog opens the console until the descriptor table is full
func fdhog(ctx context.Context, argv []string) int {
	t := task.FromContext(ctx)
	for {
		if _, err := t.Open("/dev/console", unix.O_WRONLY); err != nil {
			if t.Errno() == unix.EMFILE {
				return 0
			}
			return 1
		}
	}
}

// hog allocates until its heap is exhausted and exits with ENOMEM
func hog(ctx context.Context, argv []string) int {
	t := task.FromContext(ctx)
	for {
		if _, err := t.Malloc(1 << 10); err != nil {
			return int(t.Errno())
		}
	}
}

// crash faults, "exit" in argv exits through Exit instead
func crash(ctx context.Context, argv []string) int {
	t := task.FromContext(ctx)
	if len(argv) > 1 && argv[1] == "exit" {
		t.Exit(3)
	}
	if len(argv) > 1 && argv[1] == "nil" {
		var m map[string]*task.Task
		_ = m["nil"].PID()
	}
	t.Abort("crash requested")
	return 0
}

// cat copies /tmp/<argv[1]> (motd by default) to the console
func cat(ctx context.Context, argv []string) int {
	t := task.FromContext(ctx)
	name := "motd"
	if len(argv) > 1 {
		name = argv[1]
	}
	in, err := t.Open("/tmp/"+name, unix.O_RDONLY)
	if err != nil {
		return 1
	}
	defer t.Close(in)
	out, err := t.Open("/dev/console", unix.O_WRONLY)
	if err != nil {
		return 1
	}
	defer t.Close(out)

	buf := make([]byte, 512)
	for {
		n, err := t.Read(in, buf)
		if n > 0 {
			if _, err := t.Write(out, buf[:n]); err != nil {
				return 1
			}
		}
		if err != nil || n == 0 {
			return 0
		}
	}
}

// sleeper blocks until it is killed
func sleeper(ctx context.Context, argv []string) int {
	<-ctx.Done()
	return 0
}
