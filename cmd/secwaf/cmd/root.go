package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	debugLogLevel int
	geoDBPath     string
	redisAddr     string
)

var rootCmd = &cobra.Command{
	Use:   "secwaf",
	Short: "SecRule-language WAF rule engine",
	Long:  `secwaf loads SecRule-language rule sets and evaluates HTTP transactions against them.`,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&debugLogLevel, "debug-log-level", 0, "debug log level (0-9); the SecDebugLogLevel directive is not read")
	rootCmd.PersistentFlags().StringVar(&geoDBPath, "geo-db", "", "GeoIP database file; the SecGeoLookupDb directive is not read")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address for persistent collections; in-memory when empty")

	viper.SetEnvPrefix("SECWAF")
	viper.AutomaticEnv()
	viper.BindPFlag("debug-log-level", rootCmd.PersistentFlags().Lookup("debug-log-level"))
	viper.BindPFlag("geo-db", rootCmd.PersistentFlags().Lookup("geo-db"))
	viper.BindPFlag("redis-addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
