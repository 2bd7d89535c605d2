package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/alanyoungcy/recledger/internal/crypto"
)

var keygenCmd = &cli.Command{
	Name:  "keygen",
	Usage: "Generate a principal key",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "out",
			Usage: "write the key encrypted with --password to this file instead of printing it",
		},
	},
	Action: func(cctx *cli.Context) error {
		keyHex, addr, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		out := cctx.String("out")
		if out == "" {
			fmt.Fprintf(cctx.App.Writer, "address: %s\nkey: %s\n", addr, keyHex)
			return nil
		}
		data, err := crypto.EncryptKey(keyHex, cctx.String("password"))
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o600); err != nil {
			return fmt.Errorf("writing key file: %w", err)
		}
		fmt.Fprintf(cctx.App.Writer, "address: %s\nkey file: %s\n", addr, out)
		return nil
	},
}

var addressCmd = &cli.Command{
	Name:  "address",
	Usage: "Print the principal of the configured key",
	Action: func(cctx *cli.Context) error {
		s, err := loadSigner(cctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, s.Address().Hex())
		return nil
	},
}

// loadSigner builds the request signer from --key or --key-file.
func loadSigner(cctx *cli.Context) (*crypto.Signer, error) {
	pk, err := crypto.LoadPrivateKey(crypto.KeyConfig{
		RawPrivateKey:    cctx.String("key"),
		EncryptedKeyPath: cctx.String("key-file"),
		KeyPassword:      cctx.String("password"),
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSignerFromKey(pk), nil
}
