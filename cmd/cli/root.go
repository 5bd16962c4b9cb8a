package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"neuroconnect/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "neuroconnect",
	Short: "Operational commands for the neuroconnect session service",
	Long: `neuroconnect manages counselling sessions between students and doctors.
This CLI issues credentials for testing and runs maintenance jobs such as the
expiration sweep against the configured database.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yml)")
}

func initConfig() {
	if err := config.SetupViper(cfgFile); err != nil {
		logrus.Fatalf("Error reading config file: %v", err)
	}
}
