package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			v := crucible.GetVersion()
			return encodeJSON(out, struct {
				VersionInfo
				GoVersion string `json:"go_version"`
				Gofulmen  string `json:"gofulmen,omitempty"`
				Crucible  string `json:"crucible,omitempty"`
			}{versionInfo, runtime.Version(), v.Gofulmen, v.Crucible})
		}
		_, _ = fmt.Fprintf(out, "golivy %s (commit %s, built %s, %s)\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate, runtime.Version())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "Output as JSON")
}
