package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yolodolo42/wcwallet/internal/config"
	"github.com/yolodolo42/wcwallet/internal/logging"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  = zap.NewNop()

	rootCmd = &cobra.Command{
		Use:   "wcwallet",
		Short: "Terminal wallet that signs through a remote session",
		Long: `wcwallet pairs with a remote wallet over a relay and routes every
signature through it. Private keys never reach this process: accounts are
whatever the remote party authorizes, and each signing request waits for
its approval.

Run 'wcwallet relay' to start a local relay and 'wcwallet peer --uri ...'
to answer as a keystore-backed remote wallet.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.wcwallet/config.yaml)")
	flags.String("relay", "", "Relay websocket URL")
	flags.String("chain", "", "Chain name used for balances and broadcasting")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")

	_ = viper.BindPFlag("relay_url", flags.Lookup("relay"))
	_ = viper.BindPFlag("chain", flags.Lookup("chain"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}

	l, err := logging.New(c.LogLevel, c.LogDevelopment)
	if err != nil {
		return err
	}

	cfg = c
	logger = l.Named("wcwallet")
	logger.Debug("config loaded",
		zap.String("relay", c.RelayURL),
		zap.Strings("chains", c.Chains),
		zap.String("file", viper.ConfigFileUsed()))
	return nil
}
