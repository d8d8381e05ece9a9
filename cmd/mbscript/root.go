package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/mbscript"
	"github.com/edgeo-scada/mbscript/modbus"
)

var (
	cfgFile string

	// Global flags
	params    = mbscript.DefaultParams()
	timeout   time.Duration
	outputFmt string
	verbose   bool
	noColor   bool

	logger *slog.Logger

	// headOptions are appended to every head the commands open.
	headOptions []mbscript.Option
)

var rootCmd = &cobra.Command{
	Use:   "mbscript",
	Short: "Modbus script head",
	Long: `mbscript bootstraps Modbus device scripts: it resolves the project through
the import path, opens the device memory and polls it at the script period.

Addresses use Modbus notation (000001, 100001, 300001, 400001) or
IEC 61131 notation (%Q0, %I0, %IW0, %MW0, optional h suffix for hex).

Examples:
  # Show what a script would be bound to
  mbscript head -prj plant.yaml -imp "lib;shared" -i boiler

  # Read 4 holding registers as two float32 values
  mbscript get 400001 2 -f float32 -i tcp://192.168.1.10:502/1

  # Write a coil
  mbscript set %Q3 true -i tcp://192.168.1.10

  # Poll input registers at 500 ms
  mbscript watch 300001 -c 4 -p 500 -i tcp://192.168.1.10

  # Expose local memory over Modbus TCP
  mbscript serve -i sim --listen :5020`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: level,
		}))

		params.Project = viper.GetString("project")
		params.ImportPath = viper.GetString("importpath")
		params.MemID = viper.GetString("memid")
		period, err := mbscript.ParsePeriod(viper.GetString("period"))
		if err != nil {
			return err
		}
		params.Period = period
		timeout = viper.GetDuration("timeout")
		outputFmt = viper.GetString("output")

		switch outputFmt {
		case "table", "json":
		default:
			return fmt.Errorf("unknown output format %q", outputFmt)
		}
		return params.Validate()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.mbscript.yaml)")

	// Head flags
	mbscript.BindFlags(rootCmd.PersistentFlags(), &params)
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", modbus.DefaultTimeout, "Request timeout for remote devices")

	// Output flags
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")

	// Bind to viper
	for _, name := range []string{"project", "importpath", "memid", "period", "timeout", "output"} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	// Add commands
	rootCmd.AddCommand(headCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	// A missing .env is not an error.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".mbscript")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MBSCRIPT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// openHead runs the bootstrap with the parsed flags.
func openHead(cmd *cobra.Command) (*mbscript.Head, error) {
	opts := []mbscript.Option{
		mbscript.WithLogger(logger),
		mbscript.WithTimeout(timeout),
		mbscript.WithClientOptions(modbus.WithLogger(logger)),
	}
	return mbscript.NewFromParams(cmd.Context(), params, append(opts, headOptions...)...)
}
