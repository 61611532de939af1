package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetconsole/pkg/security"
)

var certInfoCmd = &cobra.Command{
	Use:   "cert-info",
	Short: "Show the client certificate presented to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cfg.tlsOptions()
		if opts.CertFile == "" {
			fmt.Println("No client certificate configured")
			return nil
		}

		cert, err := security.LoadCertFromFile(opts.CertFile, opts.KeyFile)
		if err != nil {
			return err
		}

		info := security.GetCertInfo(cert.Leaf)
		fmt.Printf("Certificate: %s\n", opts.CertFile)
		for _, key := range []string{"subject", "issuer", "serial_number", "not_before", "not_after", "ext_key_usage"} {
			fmt.Printf("  %-14s %v\n", key+":", info[key])
		}

		remaining := security.GetCertTimeRemaining(cert.Leaf)
		if remaining <= 0 {
			fmt.Println("  ✗ expired")
		} else {
			fmt.Printf("  expires in %s\n", remaining.Round(time.Hour))
		}

		if opts.CAFile != "" {
			fmt.Printf("CA bundle: %s\n", opts.CAFile)
		}
		return nil
	},
}
