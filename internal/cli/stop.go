package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-dev/parley/internal/paths"
)

// stopWait bounds how long `parleyd stop` waits for the daemon to exit.
const stopWait = 15 * time.Second

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long:  "Signal the running parleyd daemon to shut down gracefully. Agent sessions are terminated.",
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := paths.PIDPath()
	running, pid := IsDaemonRunning(pidPath)
	if !running {
		CleanStalePID(pidPath)
		fmt.Println("parleyd is not running")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if !IsProcessRunning(pid) {
			fmt.Println("parleyd stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, stopWait)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if running, pid := IsDaemonRunning(paths.PIDPath()); running {
			fmt.Printf("parleyd is running (pid %d)\n", pid)
		} else {
			fmt.Println("parleyd is not running")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}
