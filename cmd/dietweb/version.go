package dietweb

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/pcrpg2df4s-blip/dietweb/cmd/dietweb.version=...".
var (
	version = "dev"
	commit  = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version/build metadata",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd)
	},
}

func printVersion(cmd *cobra.Command) {
	rev := commit
	goVersion := ""
	if info, ok := debug.ReadBuildInfo(); ok {
		goVersion = info.GoVersion
		if rev == "" {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					rev = s.Value
				}
			}
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "dietweb %s\n", version)
	if rev != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\n", rev)
	}
	if goVersion != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "go: %s\n", goVersion)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
