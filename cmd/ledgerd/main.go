package main

import (
	"context"
	"crypto/sha256"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/attested-randomness/anchor"
	"github.com/ruteri/attested-randomness/chain"
	"github.com/ruteri/attested-randomness/cmd/flags"
	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/httpserver"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/storage"
	"github.com/urfave/cli/v2"
)

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for the ledger API",
}

var DBPathFlag = &cli.StringFlag{
	Name:  "db",
	Usage: "SQLite account store path; accounts are kept in memory when empty",
}

var AnchorSourceFlag = &cli.StringFlag{
	Name:  "anchor-source",
	Value: "local",
	Usage: "slot hash source: 'local' for a hash chain, or an Ethereum RPC URL",
}

var AnchorSeedFlag = &cli.StringFlag{
	Name:  "anchor-seed",
	Value: "attested-randomness",
	Usage: "seed of the local hash chain",
}

var SlotIntervalFlag = &cli.DurationFlag{
	Name:  "slot-interval",
	Value: 400 * time.Millisecond,
	Usage: "time between slots",
}

var AllowDummyAttestationFlag = &cli.BoolFlag{
	Name:  "allow-dummy-attestation",
	Value: false,
	Usage: "accept unsigned development quotes on enclave registration",
}

var ArchiveQueueFlag = &cli.IntFlag{
	Name:  "archive-queue",
	Value: storage.DefaultArchiveQueue,
	Usage: "revealed records waiting to be archived before new ones are dropped",
}

func main() {
	app := &cli.App{
		Name:  "ledgerd",
		Usage: "Run the randomness ledger and serve its API",
		Flags: append([]cli.Flag{
			ListenAddrFlag, DBPathFlag, AnchorSourceFlag, AnchorSeedFlag, SlotIntervalFlag,
			AllowDummyAttestationFlag, flags.StorageFlag, ArchiveQueueFlag, flags.LogServiceFlagFn("ledgerd"),
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var store ledger.AccountStore = ledger.NewMemoryStore()
			if path := cCtx.String(DBPathFlag.Name); path != "" {
				sqliteStore, err := ledger.OpenSQLiteStore(path)
				if err != nil {
					logger.Error("Failed to open account store", "path", path, "err", err)
					return err
				}
				defer sqliteStore.Close()
				store = sqliteStore
				logger.Info("Using SQLite account store", "path", path)
			}

			verifier := cryptoutils.QuoteVerifier{AllowDummy: cCtx.Bool(AllowDummyAttestationFlag.Name)}
			if verifier.AllowDummy {
				logger.Warn("Dummy attestation quotes are accepted, do not use in production")
			}

			l, err := chain.NewLedger(store, ledger.SystemClock{}, verifier, logger)
			if err != nil {
				logger.Error("Failed to create ledger", "err", err)
				return err
			}

			if uris := cCtx.StringSlice(flags.StorageFlag.Name); len(uris) > 0 {
				backend, err := storage.NewStorageBackendFactory(logger).FromURIs(uris)
				if err != nil {
					logger.Error("Failed to create archive storage", "err", err)
					return err
				}
				archiver := storage.NewArchiver(l, backend, cCtx.Int(ArchiveQueueFlag.Name), logger)
				l.Subscribe(archiver.HandleEvent)
				go func() { _ = archiver.Run(ctx) }()
				logger.Info("Archiving revealed records", "backend", backend.Name())
			}

			var source anchor.Source
			switch src := cCtx.String(AnchorSourceFlag.Name); src {
			case "local":
				source = anchor.NewLocalSource(sha256.Sum256([]byte(cCtx.String(AnchorSeedFlag.Name))))
			default:
				logger.Info("Connecting to Ethereum RPC for slot hashes", "address", src)
				source, err = anchor.DialEthereumSource(ctx, src)
				if err != nil {
					logger.Error("Failed to dial RPC", "err", err)
					return err
				}
			}
			driver := anchor.NewDriver(l, source, cCtx.Duration(SlotIntervalFlag.Name), logger)
			if _, err := driver.Tick(ctx); err != nil {
				logger.Error("Failed to produce the first slot", "err", err)
				return err
			}
			go func() { _ = driver.Run(ctx) }()

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String(ListenAddrFlag.Name)), httpserver.NewHandler(l, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			logger.Info("Ledger is running, press Ctrl+C to stop")
			<-ctx.Done()
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
