package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lb-conn/wssecurity/application/usecases"
	"github.com/lb-conn/wssecurity/config"
	"github.com/lb-conn/wssecurity/setup"
)

// GlobalFlags override the configuration file.
type GlobalFlags struct {
	ConfigPath   string
	P12          string
	Password     string
	PrivateKey   string
	Certificate  string
	TrustedKey   string
	TrustAnchors []string
	LogLevel     string
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:          "signer",
	Short:        "Sign and verify XML messages with enveloped XML signatures",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	bindGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(serveCmd)
}

func bindGlobalFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&globalFlags.ConfigPath, "config", "c", "", "path to the YAML configuration file")
	flags.StringVar(&globalFlags.P12, "p12", "", "path to PKCS#12 file containing certificate and private key")
	flags.StringVar(&globalFlags.Password, "pass", "", "password for the PKCS#12 file")
	flags.StringVar(&globalFlags.PrivateKey, "key", "", "path to a PEM private key (alternative to --p12)")
	flags.StringVar(&globalFlags.Certificate, "cert", "", "path to the PEM certificate of --key")
	flags.StringVar(&globalFlags.TrustedKey, "trusted-key", "", "PEM public key or certificate that verifies inbound messages")
	flags.StringSliceVar(&globalFlags.TrustAnchors, "trust-anchors", nil, "PEM files or directories of trusted certificates")
	flags.StringVar(&globalFlags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig reads the configuration file and applies the global flags.
// Without an explicit trust policy, key flags select one: --trust-anchors,
// then --trusted-key, then the signing certificate itself.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(globalFlags.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	changed := cmd.Flags().Changed
	if changed("p12") {
		cfg.Signing.P12 = globalFlags.P12
		cfg.Signing.PrivateKey = ""
		cfg.Signing.Certificate = ""
	}
	if changed("pass") {
		cfg.Signing.Password = globalFlags.Password
	}
	if changed("key") {
		cfg.Signing.PrivateKey = globalFlags.PrivateKey
		cfg.Signing.P12 = ""
	}
	if changed("cert") {
		cfg.Signing.Certificate = globalFlags.Certificate
	}
	if changed("trusted-key") {
		cfg.Verification.TrustedKey = globalFlags.TrustedKey
	}
	if changed("trust-anchors") {
		cfg.Verification.TrustAnchors = globalFlags.TrustAnchors
	}
	if changed("log-level") {
		cfg.Log.Level = globalFlags.LogLevel
	}

	if cfg.Verification.TrustPolicy == config.TrustPolicyNone {
		switch {
		case len(cfg.Verification.TrustAnchors) > 0:
			cfg.Verification.TrustPolicy = config.TrustPolicyTrustAnchor
		case cfg.Verification.TrustedKey != "":
			cfg.Verification.TrustPolicy = config.TrustPolicyStatic
		case cfg.Signing.P12 != "" || cfg.Signing.Certificate != "":
			cfg.Verification.TrustPolicy = config.TrustPolicySelf
		}
	}
	return cfg, nil
}

// buildApp loads the configuration and wires the application. The returned
// registry is nil when metrics are disabled.
func buildApp(cmd *cobra.Command) (*usecases.Application, *zap.Logger, *prometheus.Registry, config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, config.Config{}, err
	}
	logger, err := setup.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, nil, config.Config{}, err
	}

	var reg *prometheus.Registry
	var registerer prometheus.Registerer
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		registerer = reg
	}
	app, err := setup.New(cfg, logger, registerer)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, config.Config{}, err
	}
	return app, logger, reg, cfg, nil
}

// readInput determines the XML input: --data > --file > stdin.
func readInput(data, filePath string, stdin io.Reader) ([]byte, error) {
	switch {
	case strings.TrimSpace(data) != "":
		return []byte(data), nil
	case strings.TrimSpace(filePath) != "":
		b, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		return b, nil
	default:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return b, nil
	}
}
