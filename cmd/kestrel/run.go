// Copyright 2024 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/kestrel-os/kestrel/pkg/boardcfg"
	"github.com/kestrel-os/kestrel/pkg/capsules/alarm"
	"github.com/kestrel-os/kestrel/pkg/capsules/console"
	"github.com/kestrel-os/kestrel/pkg/kernel"
	"github.com/kestrel-os/kestrel/pkg/log"
)

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	config   string
	tickMS   int
	duration time.Duration
}

// Name implements subcommands.Command.
func (*runCmd) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.
func (*runCmd) Synopsis() string {
	return "boot a board from a config file and run the demo workload"
}

// Usage implements subcommands.Command.
func (*runCmd) Usage() string {
	return `run [flags]`
}

// SetFlags implements subcommands.Command.
func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.config, "config", "board.toml", "path to the board config file")
	f.IntVar(&r.tickMS, "tick-ms", 10, "alarm tick interval in milliseconds")
	f.DurationVar(&r.duration, "duration", 0, "stop after this long (0 runs until the workload exits)")
}

// Execute implements subcommands.Command.Execute.
func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg, err := boardcfg.Load(r.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return subcommands.ExitFailure
	}
	log.SetLevel(cfg.LogLevel())

	k := kernel.New(cfg.KernelOptions())

	var alarmCap *alarm.Alarm
	if err := k.RegisterDriver(alarm.DriverNum, alarm.Spec, func(ref *kernel.DriverRef) kernel.Driver {
		alarmCap = alarm.New(k, ref)
		return alarmCap
	}); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return subcommands.ExitFailure
	}
	if err := k.RegisterDriver(console.DriverNum, console.Spec, func(ref *kernel.DriverRef) kernel.Driver {
		return console.New(k, ref, os.Stdout, nil)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return subcommands.ExitFailure
	}

	apps := make([]*demoApp, 0, len(cfg.Processes))
	for _, pc := range cfg.Processes {
		p, err := k.AddProcess(pc.Name, kernel.AppID(pc.AppID), pc.MemSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading %s: %v\n", pc.Name, err)
			return subcommands.ExitFailure
		}
		apps = append(apps, newDemoApp(k, p))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.duration)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigCh)

	// The interrupt source runs off the kernel thread and communicates
	// through ticks; the kernel loop is the single thread of control that
	// touches kernel state.
	ticks := make(chan struct{}, 1)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.NewTicker(time.Duration(r.tickMS) * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				select {
				case ticks <- struct{}{}:
				default:
				}
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		for _, a := range apps {
			a.start()
		}
		for {
			for k.RunOnce() {
			}
			if done(apps) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case sig := <-sigCh:
				log.Infof("caught signal %v, shutting down", sig)
				return nil
			case <-ticks:
				alarmCap.Tick(1)
			}
		}
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return subcommands.ExitFailure
	}
	for _, a := range apps {
		if a.proc.State() == kernel.Terminated && a.proc.ExitCode() != 0 {
			return subcommands.ExitFailure
		}
	}
	return subcommands.ExitSuccess
}

func done(apps []*demoApp) bool {
	for _, a := range apps {
		if a.proc.State() != kernel.Terminated && a.proc.State() != kernel.Faulted {
			return false
		}
	}
	return true
}
