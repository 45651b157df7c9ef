// Command alertengine runs the deforestation alert analysis and artifact
// maintenance workflows.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "alertengine",
	Short: "Cluster deforestation alerts and maintain incident map artifacts",
	Long: `alertengine fetches deforestation alert points for a study area,
groups them into incidents with density clustering, renders one interactive
map per incident, and keeps those maps' embedded tile URLs fresh as the
provider's tokens expire.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd, checkCmd, regenerateCmd, serveCmd)
}

func main() {
	// Local .env files carry API keys in development; absence is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
