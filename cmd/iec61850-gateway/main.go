// Command iec61850-gateway runs an IEC 61850 server that publishes readings
// of an owning system and forwards client controls to it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "iec61850-gateway",
		Short:         "IEC 61850 server gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "gateway.yaml", "gateway file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the gateway file")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (text, json); overrides the gateway file")

	cmd.AddCommand(newServeCommand(opts), newCheckCommand(opts), newVersionCommand())
	return cmd
}

// load reads the gateway file and applies the flag overrides.
func (o *rootOptions) load() (*gatewayFile, error) {
	cfg, err := loadGatewayFile(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	return cfg, nil
}
