// Command hotpatchctl is a small operator CLI for a process embedding
// the hotpatch package: it reports whether a target directory currently
// looks hot-patched (status), drives a standalone poll loop for local
// testing (watch), and can force an immediate reload attempt (patch-now).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NikoMalik/hotpatch"
)

func main() {
	root := &cobra.Command{
		Use:   "hotpatchctl",
		Short: "Inspect and coordinate hotpatch-enabled processes",
	}
	root.AddCommand(statusCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(patchNowCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a target directory is currently mid-reload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hotpatch.IsHotpatched(dir) {
				fmt.Printf("%s: hot-patch in progress\n", dir)
				return nil
			}
			fmt.Printf("%s: idle\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "target directory to inspect")
	return cmd
}

// watchCmd runs a standalone poll loop against this process's own
// watcher singleton, for local testing of a reload cycle without
// wiring an actual patched call site. It polls at the given interval
// until interrupted.
func watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll this process's own module path for changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := hotpatch.Get()
			if w == nil {
				return fmt.Errorf("hotpatchctl: could not resolve this process's own module path; hot-patching is disabled")
			}
			w.SetPollInterval(interval)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			fmt.Printf("watching %s every %s, ctrl-c to stop\n", w.TargetPath(), interval)
			for {
				select {
				case <-sigCh:
					return nil
				case <-ticker.C:
					w.Poll()
				}
			}
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 125*time.Millisecond, "poll interval")
	return cmd
}

// patchNowCmd forces an out-of-band reload attempt, bypassing the
// watcher's normal throttle and unchanged-content short circuit.
func patchNowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch-now",
		Short: "Force an immediate reload attempt against the current on-disk module",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := hotpatch.Get()
			if w == nil {
				return fmt.Errorf("hotpatchctl: could not resolve this process's own module path; hot-patching is disabled")
			}
			if err := w.PatchNow(); err != nil {
				return fmt.Errorf("hotpatchctl: patch-now: %w", err)
			}
			fmt.Println("patch-now: reload attempt complete")
			return nil
		},
	}
	return cmd
}
