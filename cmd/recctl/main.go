// Command recctl is the client for the REC ledger API. It manages principal
// keys and sends signed requests.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "recctl",
		Usage: "REC certificate ledger client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Usage:   "ledger API base URL",
				EnvVars: []string{"RECCTL_API"},
				Value:   "http://localhost:8000",
			},
			&cli.StringFlag{
				Name:    "key",
				Usage:   "hex private key of the calling principal",
				EnvVars: []string{"RECCTL_KEY"},
			},
			&cli.StringFlag{
				Name:    "key-file",
				Usage:   "encrypted key file written by 'recctl keygen --out'",
				EnvVars: []string{"RECCTL_KEY_FILE"},
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "password of the key file",
				EnvVars: []string{"RECCTL_KEY_PASSWORD"},
			},
		},
		Commands: []*cli.Command{
			keygenCmd,
			addressCmd,
			callCmd,
			listDirectCmd,
			listAuctionCmd,
			bidCmd,
			buyCmd,
			cancelCmd,
			finalizeCmd,
			verifyCmd,
			disputeCmd,
			resolveCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "recctl: %v\n", err)
		os.Exit(1)
	}
}
