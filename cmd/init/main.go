// Command init is the supervisor entrypoint: it loads every configured
// source, starts the main loop, and runs until terminated. There is no wire
// listener here — the control surface is in-process (internal/control), so
// --control-socket is accepted and recorded but not yet bound to anything.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/silverback/initd/internal/conf"
	"github.com/silverback/initd/internal/event"
	"github.com/silverback/initd/internal/job"
	"github.com/silverback/initd/internal/logging"
	"github.com/silverback/initd/internal/perflog"
	"github.com/silverback/initd/internal/process"
	"github.com/silverback/initd/internal/registry"
	"github.com/silverback/initd/internal/supervisor"
	"github.com/silverback/initd/internal/timer"
)

var (
	confDir       string
	confFile      string
	perfLogPath   string
	controlSocket string
	debug         bool
)

func main() {
	cobra.EnableCommandSorting = false
	cmd := &cobra.Command{
		Use:   "init",
		Short: "process-supervision service manager",
		RunE:  run,
	}
	cmd.Flags().StringVar(&confDir, "conf-dir", "/etc/init", "job directory source to load (spec §3 JobDir)")
	cmd.Flags().StringVar(&confFile, "conf-file", "", "[Optional] single job file source to additionally load")
	cmd.Flags().StringVar(&perfLogPath, "perf-log", "", "[Optional] path to the performance log (spec §6); disabled if empty")
	cmd.Flags().StringVar(&controlSocket, "control-socket", "", "[Reserved] control-surface transport endpoint; unused until a transport is added")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable verbose diagnostic logging")
	cmd.Flags().SortFlags = false

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(*cobra.Command, []string) error {
	logging.Debug = debug
	if controlSocket != "" {
		logging.WarnLog("--control-socket %q given but no transport is wired yet; control surface remains in-process only", controlSocket)
	}

	events := event.NewQueue()
	eng := job.New(process.NewSpawner(), timer.NewService(timer.Real), timer.Real, func(name string, args []string) {
		events.Emit(name, args, nil)
	})
	reg := registry.New(eng)

	mgr := conf.NewManager(reg, func(format string, args ...any) { logging.WarnLog(format, args...) })
	mgr.AddSource(conf.JobDir, confDir)
	if confFile != "" {
		mgr.AddSource(conf.SingleFile, confFile)
	}

	opts := []supervisor.Option{
		supervisor.WithLogger(func(format string, args ...any) { logging.WarnLog(format, args...) }),
	}
	if perfLogPath != "" {
		p, err := perflog.Open(perfLogPath, "", "")
		if err != nil {
			return err
		}
		defer p.Close()
		opts = append(opts, supervisor.WithPerfLog(p))
	}

	sv := supervisor.New(reg, eng, mgr, events, opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	logging.InfoLog("supervisor starting, conf-dir=%s", confDir)
	return sv.Run(ctx)
}
