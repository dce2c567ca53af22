// Package main: SATP gateway service.
//
// The gateway serves the SATP stages over gRPC, an admin REST API and the Prometheus metrics, each on its configured
// port. Counterparty gateways are taken from the configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tarancss/satp/gateway"
	"github.com/tarancss/satp/lib/config"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/satp"
	"github.com/tarancss/satp/lib/signer"
)

var version = "dev"

var confPath string

var rootCmd = &cobra.Command{
	Use:               "gateway",
	Short:             "SATP gateway",
	Long:              `A gateway transferring assets between ledgers with the Secure Asset Transfer Protocol.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.ExtractConfiguration(confPath)
		if err != nil {
			return err
		}

		l := log.New(conf.LogLevel, conf.LogPretty)
		l.Info().Str("id", conf.ID).Str("version", version).Str("logtype", conf.LogType).Str("mbtype", conf.MbType).
			Int("networks", len(conf.Networks)).Int("gateways", len(conf.Gateways)).Msg("configuration loaded")

		g, err := gateway.NewFromConfig(conf, l)
		if err != nil {
			return err
		}
		defer g.Close()

		l.Info().Str("pubkey", g.PubKey()).Msg("gateway created")

		// capture CTRL+C or docker's SIGTERM for gracious exit
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			sigchan := make(chan os.Signal, 10)
			signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
			<-sigchan
			l.Info().Msg("program killed")
			cancel()
		}()

		return g.Run(ctx)
	},
}

var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Print the public key counterparties must configure for this gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.ExtractConfiguration(confPath)
		if err != nil {
			return err
		}

		s, err := signer.FromSeed(conf.Seed, conf.KeyWallet, conf.KeyIndex)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), s.PubKey())

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gateway version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gateway %s (SATP %s)\n", version, satp.SATPVersion)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&confPath, "config", "c", "", "configuration file (.json or .yaml)")
	rootCmd.AddCommand(runCmd, pubkeyCmd, versionCmd)
}
