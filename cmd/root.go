package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/utils"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/config"
	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "skyrfi",
	Short: "Track satellites and aircraft above an observatory's horizon.",
	Long: `skyrfi records which satellites and aircraft are visible above the terrain
horizon of a radio observatory, so RFI in the data can be matched to its source.

It refreshes orbital elements and aircraft positions, captures a snapshot of the
visible sky every half hour, and serves the history over an HTTP API.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, then $HOME/.skyrfi.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("logfile", "", "Also write logs to this file, rotated")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("SKYRFI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
	if logFile, _ := rootCmd.PersistentFlags().GetString("logfile"); logFile != "" {
		if err := utils.SetLogFile(logFile); err != nil {
			utils.Log.Warnf("Could not open log file %s: %v", logFile, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			utils.Log.Fatalf("Reading config: %v", err)
		}
		if cfgFile == "" {
			if err := readHomeConfig(); err != nil {
				utils.Log.Debugf("No config file found, using defaults")
			}
		}
	} else {
		utils.Log.Debugf("Using config file %s", viper.ConfigFileUsed())
	}
}

// readHomeConfig falls back to the dotfile in the home directory.
func readHomeConfig() error {
	home, err := homedir.Dir()
	if err != nil {
		return err
	}
	viper.SetConfigName(".skyrfi")
	viper.AddConfigPath(home)
	return viper.ReadInConfig()
}

// loadConfig returns the validated configuration.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}
