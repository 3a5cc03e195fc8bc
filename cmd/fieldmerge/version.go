package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/untoldecay/fieldmerge/internal/config"
	"github.com/untoldecay/fieldmerge/internal/rpc"
)

var (
	// Version is the current version of fieldmerge (overridden by ldflags at build time)
	Version = "0.3.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
	// Commit is the git revision the binary was built from (optional ldflag)
	Commit = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		if checkDaemon, _ := cmd.Flags().GetBool("daemon"); checkDaemon {
			showDaemonVersion()
			return
		}

		commit := resolveCommitHash()
		if jsonOutput {
			result := map[string]string{"version": Version, "build": Build}
			if commit != "" {
				result["commit"] = commit
			}
			outputJSON(result)
			return
		}
		if commit != "" {
			fmt.Printf("fieldmerge version %s (%s: %s)\n", Version, Build, shortCommit(commit))
		} else {
			fmt.Printf("fieldmerge version %s (%s)\n", Version, Build)
		}
	},
}

func showDaemonVersion() {
	client, err := rpc.TryConnect(rpc.SocketPath(config.DataDir()))
	if err != nil || client == nil {
		fmt.Fprintf(os.Stderr, "Error: daemon is not running\n")
		fmt.Fprintf(os.Stderr, "Hint: start it with 'fieldmerge serve'\n")
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	health, err := client.Health()
	if err != nil {
		FatalError("checking daemon health: %v", err)
	}
	if jsonOutput {
		outputJSON(map[string]any{
			"daemon_version": health.Version,
			"client_version": Version,
			"compatible":     health.Compatible,
			"daemon_uptime":  health.Uptime,
		})
		return
	}
	fmt.Printf("Daemon version: %s\n", health.Version)
	fmt.Printf("Client version: %s\n", Version)
	if health.Compatible {
		fmt.Println("Compatibility: ✓ compatible")
	} else {
		fmt.Println("Compatibility: ✗ incompatible (restart the daemon)")
	}
	fmt.Printf("Daemon uptime: %.1f seconds\n", health.Uptime)
}

func resolveCommitHash() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return setting.Value
			}
		}
	}
	return ""
}

func shortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func init() {
	versionCmd.Flags().Bool("daemon", false, "Check daemon version and compatibility")
	rootCmd.AddCommand(versionCmd)
}
