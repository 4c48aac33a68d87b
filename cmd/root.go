package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gonexia/internal/pkg/logging"
	"gonexia/internal/pkg/nexia"
	"gonexia/internal/pkg/session"
)

var _rootCmdOpts struct {
	cfgFile string
	debug   bool
}

var rootCmd = &cobra.Command{
	Use:   "gonexia",
	Short: "Client for the Nexia Home thermostat cloud API",

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _rootCmdOpts.debug {
			logrus.SetLevel(logrus.DebugLevel)
		}

		return logging.Configure(viper.GetViper())
	},

	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the top level command processor
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&_rootCmdOpts.cfgFile, "config", "", "config file (default ~/.gonexia.yaml)")
	rootCmd.PersistentFlags().BoolVar(&_rootCmdOpts.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("base-url", nexia.DefaultBaseURL, "vendor API base URL")
	rootCmd.PersistentFlags().String("login", "", "account login (email address)")
	rootCmd.PersistentFlags().String("password", "", "account password")
	rootCmd.PersistentFlags().Int64("house-id", 0, "house ID override when the account has several homes")
	rootCmd.PersistentFlags().String("state-file", session.DefaultStateFile(), "file holding the device identity and session")
	rootCmd.PersistentFlags().Duration("api-timeout", time.Second*15, "maximum duration of a single API call, eg. 1m or 10s")

	errPanic(viper.GetViper().BindPFlag("nexia.base-url", rootCmd.PersistentFlags().Lookup("base-url")))
	errPanic(viper.GetViper().BindPFlag("nexia.login", rootCmd.PersistentFlags().Lookup("login")))
	errPanic(viper.GetViper().BindPFlag("nexia.password", rootCmd.PersistentFlags().Lookup("password")))
	errPanic(viper.GetViper().BindPFlag("nexia.house-id", rootCmd.PersistentFlags().Lookup("house-id")))
	errPanic(viper.GetViper().BindPFlag("nexia.state-file", rootCmd.PersistentFlags().Lookup("state-file")))
	errPanic(viper.GetViper().BindPFlag("nexia.api-timeout", rootCmd.PersistentFlags().Lookup("api-timeout")))
}

func initConfig() {
	if _rootCmdOpts.cfgFile != "" {
		viper.SetConfigFile(_rootCmdOpts.cfgFile)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".gonexia")
	}

	viper.SetEnvPrefix("GONEXIA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logging.Logger(nil).Debugf("using config file %s", viper.ConfigFileUsed())
	}
}

// newHome builds the client facade from the resolved configuration.
func newHome() *nexia.Home {
	return nexia.New(nexia.Config{
		BaseURL:   viper.GetString("nexia.base-url"),
		Login:     viper.GetString("nexia.login"),
		Password:  viper.GetString("nexia.password"),
		HouseID:   viper.GetInt64("nexia.house-id"),
		StateFile: viper.GetString("nexia.state-file"),
		Timeout:   viper.GetDuration("nexia.api-timeout"),
	})
}

func checkRequiredFlags(needFlags ...string) error {
	missingFlags := []string{}

	for _, f := range needFlags {
		if viper.GetString(f) == "" {
			missingFlags = append(missingFlags, f)
		}
	}

	if len(missingFlags) > 0 {
		itemPlural := "item"
		if len(missingFlags) > 1 {
			itemPlural = "items"
		}
		return fmt.Errorf("required config %s `%s` not set", itemPlural, strings.Join(missingFlags, "`, `"))
	}

	return nil
}

func errPanic(err error) {
	if err != nil {
		panic(err)
	}
}
