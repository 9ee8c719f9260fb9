package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ruteri/attested-randomness/api/clients"
	"github.com/ruteri/attested-randomness/cmd/flags"
	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/record"
	"github.com/ruteri/attested-randomness/requester"
	"github.com/ruteri/attested-randomness/storage"
	"github.com/urfave/cli/v2"
)

var PayerKeyFlag = &cli.StringFlag{
	Name:     "payer-key",
	Required: true,
	Usage:    "PEM file of the key paying for and authorizing requests",
}

var DrawFlag = &cli.StringFlag{
	Name:  "draw",
	Value: "draw.json",
	Usage: "draw file holding the record key",
}

func newRequester(cCtx *cli.Context) (*requester.Requester, error) {
	logger := flags.SetupLogger(cCtx)

	payer, err := cryptoutils.ReadKeyFile(cCtx.String(PayerKeyFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("reading payer key: %w", err)
	}

	var secrets interfaces.StorageBackend
	if uris := cCtx.StringSlice(flags.StorageFlag.Name); len(uris) > 0 {
		secrets, err = storage.NewStorageBackendFactory(logger).FromURIs(uris)
		if err != nil {
			return nil, err
		}
	}

	return requester.New(payer, clients.NewLedgerClient(cCtx.String(flags.RpcAddrFlag.Name)), secrets, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	app := &cli.App{
		Name:  "requester",
		Usage: "Request and reveal attested randomness",
		Flags: append([]cli.Flag{flags.RpcAddrFlag, flags.LogServiceFlagFn("requester")}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "Generate an ed25519 key",
				Flags: []cli.Flag{&cli.StringFlag{Name: "out", Required: true, Usage: "PEM file to write"}},
				Action: func(cCtx *cli.Context) error {
					id, key, err := cryptoutils.GenerateKey()
					if err != nil {
						return err
					}
					if err := cryptoutils.WriteKeyFile(cCtx.String("out"), key); err != nil {
						return err
					}
					fmt.Println(id)
					return nil
				},
			},
			{
				Name:  "request",
				Usage: "Request randomness from a function and save the draw",
				Flags: []cli.Flag{
					PayerKeyFlag, flags.FunctionFlag, flags.StorageFlag, DrawFlag,
					&cli.StringFlag{Name: "strategy", Value: record.StrategySignature.String(), Usage: "reveal strategy: 'preimage' or 'signature'"},
					&cli.Uint64Flag{Name: "expiration-slots", Usage: "slots the oracle has to seed the request, 0 for the default"},
				},
				Action: func(cCtx *cli.Context) error {
					r, err := newRequester(cCtx)
					if err != nil {
						return err
					}
					function, err := interfaces.NewIdentityFromString(cCtx.String(flags.FunctionFlag.Name))
					if err != nil {
						return fmt.Errorf("invalid function: %w", err)
					}
					strategy, err := record.ParseStrategy(cCtx.String("strategy"))
					if err != nil {
						return err
					}

					drawPath := cCtx.String(DrawFlag.Name)
					if _, err := os.Stat(drawPath); err == nil {
						return fmt.Errorf("draw file %s already exists", drawPath)
					}

					draw, _, err := r.Request(cCtx.Context, requester.RequestOptions{
						Function:        function,
						Strategy:        strategy,
						ExpirationSlots: cCtx.Uint64("expiration-slots"),
					})
					if err != nil {
						return err
					}
					if err := requester.SaveDraw(drawPath, draw); err != nil {
						return err
					}
					fmt.Println(draw.Record)
					return nil
				},
			},
			{
				Name:  "reveal",
				Usage: "Reveal a seeded draw",
				Flags: []cli.Flag{PayerKeyFlag, flags.StorageFlag, DrawFlag},
				Action: func(cCtx *cli.Context) error {
					r, err := newRequester(cCtx)
					if err != nil {
						return err
					}
					draw, err := requester.LoadDraw(cCtx.String(DrawFlag.Name))
					if err != nil {
						return err
					}

					rec, err := r.Reveal(cCtx.Context, draw)
					if errors.Is(err, interfaces.ErrNotSeeded) {
						return fmt.Errorf("draw %s is not seeded yet, retry later: %w", draw.Record, err)
					}
					if err != nil {
						return err
					}
					return printJSON(rec)
				},
			},
			{
				Name:  "show",
				Usage: "Print the record of a draw",
				Flags: []cli.Flag{DrawFlag},
				Action: func(cCtx *cli.Context) error {
					draw, err := requester.LoadDraw(cCtx.String(DrawFlag.Name))
					if err != nil {
						return err
					}
					rec, err := clients.NewLedgerClient(cCtx.String(flags.RpcAddrFlag.Name)).Record(cCtx.Context, draw.Record)
					if err != nil {
						return err
					}
					return printJSON(rec)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
