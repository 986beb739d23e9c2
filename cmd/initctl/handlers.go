package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/silverback/initd/internal/conf"
	"github.com/silverback/initd/internal/control"
	"github.com/silverback/initd/internal/event"
	"github.com/silverback/initd/internal/job"
	"github.com/silverback/initd/internal/process"
	"github.com/silverback/initd/internal/registry"
	"github.com/silverback/initd/internal/timer"
)

// buildSurface reloads --conf-dir/--conf-file into a fresh Engine and
// Registry and returns the control.Surface over them, the stand-in for
// getClientConn() in a version of this client with a real transport.
func buildSurface() control.Surface {
	events := event.NewQueue()
	eng := job.New(process.NewSpawner(), timer.NewService(timer.Real), timer.Real, func(name string, args []string) {
		events.Emit(name, args, nil)
	})
	reg := registry.New(eng)

	mgr := conf.NewManager(reg, func(format string, args ...any) { log.Printf("[warn] "+format, args...) })
	mgr.AddSource(conf.JobDir, confDir)
	if confFile != "" {
		mgr.AddSource(conf.SingleFile, confFile)
	}
	mgr.ReloadAll()

	return control.New(eng, reg, events)
}

func listHandler() func(*cobra.Command, []string) {
	return func(_ *cobra.Command, _ []string) {
		surface := buildSurface()
		for _, st := range surface.List() {
			fmt.Printf("%s\tgoal=%s\tstate=%s\tpid=%d\n", st.Name, st.Goal, st.State, st.Pid)
		}
	}
}

func startHandler() func(*cobra.Command, []string) {
	return func(_ *cobra.Command, args []string) {
		surface := buildSurface()
		if err := surface.Start(args[0]); err != nil {
			log.Fatalf("failed to start %q: %v", args[0], err)
		}
		fmt.Printf("%s: start\n", args[0])
	}
}

func stopHandler() func(*cobra.Command, []string) {
	return func(_ *cobra.Command, args []string) {
		surface := buildSurface()
		if err := surface.Stop(args[0]); err != nil {
			log.Fatalf("failed to stop %q: %v", args[0], err)
		}
		fmt.Printf("%s: stop\n", args[0])
	}
}

func statusHandler() func(*cobra.Command, []string) {
	return func(_ *cobra.Command, args []string) {
		surface := buildSurface()
		st, err := surface.Status(args[0])
		if err != nil {
			log.Fatalf("failed to get status of %q: %v", args[0], err)
		}
		fmt.Printf("%s goal=%s state=%s pid=%d\n", st.Name, st.Goal, st.State, st.Pid)
	}
}

func emitHandler() func(*cobra.Command, []string) {
	return func(_ *cobra.Command, args []string) {
		surface := buildSurface()
		name := args[0]
		env := make(map[string]string)
		var positional []string
		for _, a := range args[1:] {
			if k, v, ok := strings.Cut(a, "="); ok {
				env[k] = v
			} else {
				positional = append(positional, a)
			}
		}
		surface.Emit(name, positional, env)
		fmt.Printf("%s: emitted\n", name)
	}
}
