package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/receptionist/internal/config"
)

// rootCmd represents the base command for the receptionist application
var rootCmd = &cobra.Command{
	Use:   "receptionist",
	Short: "Appointment booking backend for a voice agent",
	Long: `receptionist answers tool calls from a voice agent: it finds open slots on
the practice calendar, holds them briefly while the caller decides, and books,
reschedules or cancels appointments.

It serves the agent's webhook and the same tools over MCP.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

var configFile string

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "receptionist version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads configuration from defaults, the config file, the
// environment and the given flags, in increasing precedence. overrides
// are applied last and win over everything.
func loadConfig(cmd *cobra.Command, flags map[string]string, overrides ...map[string]any) (config.Config, error) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags(), flags); err != nil {
		return config.Config{}, err
	}
	for _, o := range overrides {
		for key, value := range o {
			v.Set(key, value)
		}
	}
	return config.Load(v, configFile)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "receptionist version %s\n", version)
		},
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
