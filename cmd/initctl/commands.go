package main

import (
	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "list every known job and its current status",
		Example: "initctl --conf-dir /etc/init list",
		Args:    cobra.NoArgs,
		Run:     listHandler(),
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start <job>",
		Short:   "flip a job's goal to start",
		Example: "initctl start web",
		Args:    cobra.ExactArgs(1),
		Run:     startHandler(),
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stop <job>",
		Short:   "flip a job's goal to stop",
		Example: "initctl stop web",
		Args:    cobra.ExactArgs(1),
		Run:     stopHandler(),
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status <job>",
		Short:   "report a job's current goal, state and pid",
		Example: "initctl status web",
		Args:    cobra.ExactArgs(1),
		Run:     statusHandler(),
	}
}

func emitCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "emit <event> [arg...]",
		Short:   "emit an event onto the queue",
		Example: "initctl emit net-device-up INTERFACE=eth0",
		Args:    cobra.MinimumNArgs(1),
		Run:     emitHandler(),
	}
}
