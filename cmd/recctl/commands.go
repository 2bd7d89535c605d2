package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"
)

// idArg parses the first positional argument as a listing or record id.
func idArg(cctx *cli.Context, what string) (uint64, error) {
	if cctx.NArg() != 1 {
		return 0, cli.Exit(fmt.Sprintf("expected exactly one %s argument", what), 2)
	}
	id, err := strconv.ParseUint(cctx.Args().First(), 10, 64)
	if err != nil {
		return 0, cli.Exit(fmt.Sprintf("invalid %s %q", what, cctx.Args().First()), 2)
	}
	return id, nil
}

var listDirectCmd = &cli.Command{
	Name:  "list-direct",
	Usage: "List a certificate for sale at a fixed price",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "token", Required: true},
		&cli.Uint64Flag{Name: "price", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		return send(cctx, "POST", "/v1/listings/direct", map[string]uint64{
			"token_id": cctx.Uint64("token"),
			"price":    cctx.Uint64("price"),
		})
	},
}

var listAuctionCmd = &cli.Command{
	Name:  "list-auction",
	Usage: "List a certificate for auction",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "token", Required: true},
		&cli.Uint64Flag{Name: "start", Usage: "starting price", Required: true},
		&cli.Uint64Flag{Name: "duration", Usage: "length in ledger heights", Value: 144},
	},
	Action: func(cctx *cli.Context) error {
		return send(cctx, "POST", "/v1/listings/auction", map[string]uint64{
			"token_id":       cctx.Uint64("token"),
			"starting_price": cctx.Uint64("start"),
			"duration":       cctx.Uint64("duration"),
		})
	},
}

var bidCmd = &cli.Command{
	Name:      "bid",
	Usage:     "Bid on an auction",
	ArgsUsage: "LISTING",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "amount", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		id, err := idArg(cctx, "listing")
		if err != nil {
			return err
		}
		return send(cctx, "POST", fmt.Sprintf("/v1/listings/%d/bids", id), map[string]uint64{
			"amount": cctx.Uint64("amount"),
		})
	},
}

// listingAction builds a command that posts to /v1/listings/{id}/<action>.
func listingAction(name, usage, action string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "LISTING",
		Action: func(cctx *cli.Context) error {
			id, err := idArg(cctx, "listing")
			if err != nil {
				return err
			}
			return send(cctx, "POST", fmt.Sprintf("/v1/listings/%d/%s", id, action), nil)
		},
	}
}

var (
	buyCmd      = listingAction("buy", "Buy a fixed-price listing", "buy")
	cancelCmd   = listingAction("cancel", "Cancel your listing", "cancel")
	finalizeCmd = listingAction("finalize", "Settle an ended auction", "finalize")
)

var verifyCmd = &cli.Command{
	Name:  "verify",
	Usage: "Submit a verification as an authorized verifier",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "token", Required: true},
		&cli.StringFlag{Name: "status", Value: "verified", Usage: "pending, verified or rejected"},
		&cli.StringFlag{Name: "notes"},
		&cli.StringFlag{Name: "evidence", Usage: "evidence hash returned by POST /v1/evidence"},
		&cli.Uint64Flag{Name: "expiry", Usage: "expiry date, 0 for none"},
	},
	Action: func(cctx *cli.Context) error {
		req := map[string]any{
			"token_id":      cctx.Uint64("token"),
			"status":        cctx.String("status"),
			"notes":         cctx.String("notes"),
			"evidence_hash": cctx.String("evidence"),
		}
		if cctx.IsSet("expiry") && cctx.Uint64("expiry") > 0 {
			req["expiry_date"] = cctx.Uint64("expiry")
		}
		return send(cctx, "POST", "/v1/verifications", req)
	},
}

var disputeCmd = &cli.Command{
	Name:      "dispute",
	Usage:     "Dispute a verification record",
	ArgsUsage: "RECORD",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "reason", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		id, err := idArg(cctx, "record")
		if err != nil {
			return err
		}
		return send(cctx, "POST", fmt.Sprintf("/v1/verifications/%d/dispute", id), map[string]string{
			"reason": cctx.String("reason"),
		})
	},
}

var resolveCmd = &cli.Command{
	Name:      "resolve",
	Usage:     "Resolve an open dispute (admin)",
	ArgsUsage: "RECORD",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "resolution", Required: true},
		&cli.StringFlag{Name: "status", Required: true, Usage: "final status: verified or rejected"},
	},
	Action: func(cctx *cli.Context) error {
		id, err := idArg(cctx, "record")
		if err != nil {
			return err
		}
		return send(cctx, "POST", fmt.Sprintf("/v1/verifications/%d/resolve", id), map[string]string{
			"resolution":   cctx.String("resolution"),
			"final_status": cctx.String("status"),
		})
	},
}
