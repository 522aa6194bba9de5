// Package config loads the runtime configuration from YAML stored at any
// location afs can read (local path, file://, mem://, ...).
package config

import (
	"context"
	"fmt"

	"github.com/criyle/go-taskrt/kernel"
	"github.com/criyle/go-taskrt/pkg/fdtable"
	"github.com/criyle/go-taskrt/pkg/pidtab"
	"github.com/criyle/go-taskrt/pkg/seccomp"
	"github.com/criyle/go-taskrt/pkg/seccomp/libseccomp"
	"github.com/criyle/go-taskrt/task"
	"github.com/criyle/go-taskrt/types"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration
type Config struct {
	PIDs         int        `yaml:"pids"`
	PoolSize     types.Size `yaml:"poolSize"`
	DefaultHeap  types.Size `yaml:"defaultHeap"`
	MinStack     types.Size `yaml:"minStack"`
	DefaultStack types.Size `yaml:"defaultStack"`
	MaxFiles     int        `yaml:"maxFiles"`
	MaxResources int        `yaml:"maxResources"`
	MaxThreads   int        `yaml:"maxThreads"`
	NoGuardPages bool       `yaml:"noGuardPages"`
	ConsoleLimit types.Size `yaml:"consoleLimit"`

	// Policies by task type name (elf, rom)
	Policies map[string]Policy `yaml:"policies"`
	// Files are preloaded read only into the file device, name to URL
	Files map[string]string `yaml:"files"`
}

// MaxErrno is the largest errno a policy may return
const MaxErrno = 4095

// Policy is the syscall policy of a task type
type Policy struct {
	Default   seccomp.Action `yaml:"default"`
	Allow     []string       `yaml:"allow"`
	Errno     []string       `yaml:"errno"`
	Kill      []string       `yaml:"kill"`
	ErrnoCode int            `yaml:"errnoCode"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		PIDs:         pidtab.NumPIDs,
		PoolSize:     kernel.DefaultPoolSize,
		DefaultHeap:  kernel.DefaultHeapSize,
		MinStack:     kernel.MinStackSize,
		DefaultStack: kernel.DefaultStackSize,
		MaxFiles:     fdtable.MaxFD,
		ConsoleLimit: 64 << 10,
	}
}

// Load reads the configuration at URL on top of Default
func Load(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("config: load %v: %w", URL, err)
	}
	return Parse(data)
}

// Parse parses YAML on top of Default
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the bounds that can not be clamped silently
func (c *Config) Validate() error {
	switch {
	case c.PIDs < 1 || c.PIDs > pidtab.NumPIDs:
		return fmt.Errorf("config: pids %d out of [1, %d]", c.PIDs, pidtab.NumPIDs)
	case c.MaxFiles < 1 || c.MaxFiles > fdtable.MaxFD:
		return fmt.Errorf("config: maxFiles %d out of [1, %d]", c.MaxFiles, fdtable.MaxFD)
	case c.PoolSize == 0:
		return fmt.Errorf("config: poolSize must be positive")
	case c.DefaultHeap > c.PoolSize:
		return fmt.Errorf("config: defaultHeap %v larger than poolSize %v", c.DefaultHeap, c.PoolSize)
	case c.DefaultStack < c.MinStack:
		return fmt.Errorf("config: defaultStack %v below minStack %v", c.DefaultStack, c.MinStack)
	case c.MaxResources < 0 || c.MaxThreads < 0:
		return fmt.Errorf("config: negative limit")
	}
	for name, p := range c.Policies {
		if _, err := task.ParseType(name); err != nil {
			return fmt.Errorf("config: policy %q: %w", name, err)
		}
		if p.Default == 0 {
			return fmt.Errorf("config: policy %q has no default action", name)
		}
		if p.ErrnoCode < 0 || p.ErrnoCode > MaxErrno {
			return fmt.Errorf("config: policy %q: errnoCode %d out of [0, %d]", name, p.ErrnoCode, MaxErrno)
		}
	}
	return nil
}

// Builder returns the filter builder of the policy
func (p Policy) Builder() *libseccomp.Builder {
	return &libseccomp.Builder{
		Allow:     p.Allow,
		Errno:     p.Errno,
		Kill:      p.Kill,
		Default:   p.Default,
		ErrnoCode: int16(p.ErrnoCode),
	}
}

// KernelOptions converts the configuration, policies are compiled for the
// running architecture
func (c *Config) KernelOptions() (kernel.Options, error) {
	o := kernel.Options{
		PIDs:         c.PIDs,
		PoolSize:     c.PoolSize.Byte(),
		DefaultHeap:  c.DefaultHeap.Byte(),
		MinStack:     c.MinStack.Byte(),
		DefaultStack: c.DefaultStack.Byte(),
		MaxFiles:     c.MaxFiles,
		MaxResources: c.MaxResources,
		MaxThreads:   c.MaxThreads,
		NoGuardPages: c.NoGuardPages,
	}
	if len(c.Policies) > 0 {
		o.Policies = make(map[task.Type]*seccomp.Policy, len(c.Policies))
	}
	for name, p := range c.Policies {
		typ, err := task.ParseType(name)
		if err != nil {
			return o, fmt.Errorf("config: policy %q: %w", name, err)
		}
		policy, err := p.Builder().Policy()
		if err != nil {
			return o, fmt.Errorf("config: policy %q: %w", name, err)
		}
		o.Policies[typ] = policy
	}
	return o, nil
}
