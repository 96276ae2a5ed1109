package realtime

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/realtime"
)

// Command creates the realtime monitoring command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Monitor the facility in realtime mode",
		Long:  "Watch the facility logs for changes, reconcile aggregate statistics and stream events to connected dashboards and terminals.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return realtime.Run(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().IntVar(&settings.Realtime.Monitor.PollInterval, "pollinterval", viper.GetInt("realtime.monitor.pollinterval"), "Log polling interval in seconds")
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Web server port")
	cmd.Flags().BoolVar(&settings.WebServer.Enabled, "webserver", viper.GetBool("webserver.enabled"), "Enable the web server")
	cmd.Flags().BoolVar(&settings.Terminal.Enabled, "terminal", viper.GetBool("terminal.enabled"), "Enable the payment terminal listener")
	cmd.Flags().StringVar(&settings.Terminal.Listen, "listen", viper.GetString("terminal.listen"), "Listen address of the payment terminal")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
