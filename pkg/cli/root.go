package cli

import (
	"strings"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/config"
	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"
)

type Dependencies struct {
	ConfigPath string
	Config     *config.Config
}

func NewRootCmd() *cobra.Command {
	deps := &Dependencies{}

	rootCmd := &cobra.Command{
		Use:           "meeting-recorder",
		Short:         "Record LiveKit meetings per participant",
		Long:          "A recording bot service that joins LiveKit rooms, captures every participant's audio and video and merges them into one file per participant.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(deps.ConfigPath)
			if err != nil {
				return err
			}
			deps.Config = cfg
			setupLogging(cfg.LogLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", "", "path to a TOML config file")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}

func parseLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "info":
		return log.INFO
	case "warn":
		return log.WARN
	case "error":
		fallthrough
	default:
		return log.ERROR
	}
}

func setupLogging(level string) {
	log.SetLevel(parseLevel(level))
	log.SetHeader("(${short_file}:${line}) ${time_rfc3339} ${level}: ")
}
