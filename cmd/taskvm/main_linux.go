package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/criyle/go-taskrt/config"
	"github.com/criyle/go-taskrt/kernel"
	"github.com/criyle/go-taskrt/pkg/memfd"
	"github.com/criyle/go-taskrt/task"
	"github.com/viant/afs"
)

// mountFiles mounts a memfd file device on /tmp/ and preloads the files of
// the configuration into it
func mountFiles(ctx context.Context, conf *config.Config, opts *kernel.Options) (func(), error) {
	store := memfd.NewStore()
	fs := afs.New()
	for name, URL := range conf.Files {
		data, err := fs.DownloadWithURL(ctx, URL)
		if err != nil {
			store.Release()
			return nil, fmt.Errorf("preload %v: %w", name, err)
		}
		if err := store.Preload(name, bytes.NewReader(data)); err != nil {
			store.Release()
			return nil, fmt.Errorf("preload %v: %w", name, err)
		}
		debug("preloaded", name, len(data), "bytes")
	}
	opts.Mounts = append(opts.Mounts, task.Mount{Prefix: "/tmp/", Driver: store})
	return func() {
		if err := store.Release(); err != nil {
			debug("release files:", err)
		}
	}, nil
}
