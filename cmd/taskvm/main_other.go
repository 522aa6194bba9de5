//go:build !linux

package main

import (
	"context"

	"github.com/criyle/go-taskrt/config"
	"github.com/criyle/go-taskrt/kernel"
)

// mountFiles is a no-op without memfd, tasks only see /dev/
func mountFiles(ctx context.Context, conf *config.Config, opts *kernel.Options) (func(), error) {
	if len(conf.Files) > 0 {
		debug("files are not supported on this platform")
	}
	return func() {}, nil
}
