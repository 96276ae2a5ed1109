// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "ParkWatch")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "parkwatch.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)

	viper.SetDefault("store.path", ".")
	viper.SetDefault("store.sessionlog", "plates_log.csv")
	viper.SetDefault("store.exitlog", "exit_log.csv")
	viper.SetDefault("store.securitylog", "security_log.csv")
	viper.SetDefault("store.transactionlog", "payment_log.txt")

	viper.SetDefault("pricing.hourlyrate", 500)
	viper.SetDefault("pricing.minimumcharge", 500)

	viper.SetDefault("realtime.monitor.pollinterval", 1)
	viper.SetDefault("realtime.entry.cooldown", 300)
	viper.SetDefault("realtime.exit.cooldown", 60)
	viper.SetDefault("realtime.exit.alarmduration", 5)
	viper.SetDefault("realtime.exit.gateopenduration", 10)
	viper.SetDefault("realtime.exit.lockdownthreshold", 3)
	viper.SetDefault("realtime.activitybuffersize", 50)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")

	viper.SetDefault("terminal.enabled", true)
	viper.SetDefault("terminal.listen", ":4040")
}
