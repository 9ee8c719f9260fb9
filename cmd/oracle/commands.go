package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ruteri/attested-randomness/api/clients"
	"github.com/ruteri/attested-randomness/chain"
	"github.com/ruteri/attested-randomness/cmd/flags"
	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/kms"
	"github.com/ruteri/attested-randomness/oracle"
	"github.com/urfave/cli/v2"
)

var AuthorityKeyFlag = &cli.StringFlag{
	Name:     "authority-key",
	Required: true,
	Usage:    "PEM file of the function authority key",
}

var MeasurementFlag = &cli.StringFlag{
	Name:     "measurement",
	Required: true,
	Usage:    "hex measurement of the enclave allowed to serve the function",
}

var MasterKeyFlag = &cli.StringFlag{
	Name:    "master-key",
	Usage:   "hex-encoded master seed (at least 32 bytes)",
	EnvVars: []string{"ORACLE_MASTER_KEY"},
}

var AdminFlag = &cli.StringSliceFlag{
	Name:  "admin",
	Usage: "administrator identity (base58) holding a master seed share, repeatable",
}

var ThresholdFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "shares required to reconstruct the master seed",
}

var AttestationTypeFlag = &cli.StringFlag{
	Name:  "attestation-type",
	Value: cryptoutils.DCAPAttestation.StringID,
	Usage: "attestation provider: 'qemu-tdx' or 'dummy'",
}

var RemoteAttestationFlag = &cli.StringFlag{
	Name:  "remote-attestation-addr",
	Usage: "remote quote provider URL for TDX attestation",
}

var DummyMeasurementFlag = &cli.StringFlag{
	Name:  "dummy-measurement",
	Usage: "hex measurement reported by dummy quotes",
}

var createFunctionCommand = &cli.Command{
	Name:  "create-function",
	Usage: "Create an attested function bound to an enclave measurement",
	Flags: []cli.Flag{flags.RpcAddrFlag, AuthorityKeyFlag, MeasurementFlag},
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)

		authority, err := cryptoutils.ReadKeyFile(cCtx.String(AuthorityKeyFlag.Name))
		if err != nil {
			return fmt.Errorf("reading authority key: %w", err)
		}
		measurement, err := cryptoutils.ParseMeasurement(cCtx.String(MeasurementFlag.Name))
		if err != nil {
			return err
		}

		function, err := chain.CreateFunction(cCtx.Context, clients.NewLedgerClient(cCtx.String(flags.RpcAddrFlag.Name)), authority, measurement)
		if err != nil {
			logger.Error("Failed to create function", "err", err)
			return err
		}

		logger.Info("Function created", "function", function, "measurement", measurement)
		fmt.Println(function)
		return nil
	},
}

var splitKeyCommand = &cli.Command{
	Name:  "split-key",
	Usage: "Split a master seed into one share per administrator",
	Flags: []cli.Flag{
		MasterKeyFlag, AdminFlag, ThresholdFlag,
		&cli.StringFlag{Name: "out-dir", Value: ".", Usage: "directory to write share files to"},
	},
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)

		config, err := shamirConfig(cCtx)
		if err != nil {
			return err
		}

		masterKey, err := masterKeyFrom(cCtx)
		if err != nil {
			return err
		}
		if masterKey == nil {
			masterKey = make([]byte, 32)
			if _, err := rand.Read(masterKey); err != nil {
				return err
			}
			logger.Info("Generated a new master seed")
		}

		shares, err := kms.SplitMasterKey(masterKey, config)
		if err != nil {
			return err
		}

		outDir := cCtx.String("out-dir")
		for i, admin := range config.Admins {
			path := filepath.Join(outDir, fmt.Sprintf("share-%s.hex", admin))
			if err := os.WriteFile(path, []byte(hex.EncodeToString(shares[i])), 0o600); err != nil {
				return err
			}
			logger.Info("Wrote share", "admin", admin, "path", path)
		}
		return nil
	},
}

var submitShareCommand = &cli.Command{
	Name:  "submit-share",
	Usage: "Submit an administrator's share to an oracle waiting to unlock",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "admin-url", Value: "http://127.0.0.1:8081", Usage: "oracle admin API base URL"},
		&cli.StringFlag{Name: "admin-key", Required: true, Usage: "PEM file of the administrator key"},
		&cli.StringFlag{Name: "share-file", Required: true, Usage: "hex share written by split-key"},
	},
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)

		adminKey, err := cryptoutils.ReadKeyFile(cCtx.String("admin-key"))
		if err != nil {
			return fmt.Errorf("reading admin key: %w", err)
		}
		shareHex, err := os.ReadFile(cCtx.String("share-file"))
		if err != nil {
			return err
		}
		share, err := hex.DecodeString(strings.TrimSpace(string(shareHex)))
		if err != nil {
			return fmt.Errorf("decoding share: %w", err)
		}

		client := clients.NewAdminClient(cCtx.String("admin-url"), adminKey)
		if err := client.SubmitShare(cCtx.Context, share); err != nil {
			logger.Error("Failed to submit share", "err", err)
			return err
		}
		status, err := client.Status(cCtx.Context)
		if err != nil {
			return err
		}
		logger.Info("Share submitted", "admin", cryptoutils.IdentityOf(adminKey), "state", status)
		return nil
	},
}

var enclaveFlags = []cli.Flag{
	flags.RpcAddrFlag, flags.FunctionFlag, MasterKeyFlag, AdminFlag, ThresholdFlag,
	AttestationTypeFlag, RemoteAttestationFlag, DummyMeasurementFlag,
	&cli.StringFlag{Name: "admin-addr", Value: "127.0.0.1:8081", Usage: "address to receive master seed shares on"},
	&cli.DurationFlag{Name: "unlock-timeout", Value: 10 * time.Minute, Usage: "how long to wait for administrators to unlock the master seed"},
}

var registerCommand = &cli.Command{
	Name:  "register",
	Usage: "Attest the enclave signer and register it for the function",
	Flags: enclaveFlags,
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		ledgerClient := clients.NewLedgerClient(cCtx.String(flags.RpcAddrFlag.Name))

		enclave, err := setupEnclave(cCtx, logger)
		if err != nil {
			return err
		}
		return enclave.Register(cCtx.Context, ledgerClient)
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Register the enclave signer if needed and fulfill requests",
	Flags: append([]cli.Flag{
		&cli.DurationFlag{Name: "poll-interval", Value: time.Second, Usage: "request queue polling interval"},
		&cli.IntFlag{Name: "concurrency", Value: 8, Usage: "requests fulfilled at once"},
		&cli.UintFlag{Name: "min", Value: uint(oracle.DefaultMin), Usage: "lowest seed"},
		&cli.UintFlag{Name: "max", Value: uint(oracle.DefaultMax), Usage: "highest seed"},
	}, enclaveFlags...),
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		ledgerClient := clients.NewLedgerClient(cCtx.String(flags.RpcAddrFlag.Name))

		ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		enclave, err := setupEnclave(cCtx, logger)
		if err != nil {
			return err
		}

		fn, err := ledgerClient.Function(ctx, enclave.Function)
		if err != nil {
			logger.Error("Failed to load function", "function", enclave.Function, "err", err)
			return err
		}
		if fn.EnclaveSigner != enclave.Signer() {
			if err := enclave.Register(ctx, ledgerClient); err != nil {
				logger.Error("Failed to register enclave", "err", err)
				return err
			}
		}

		seedMin, seedMax := uint32(cCtx.Uint("min")), uint32(cCtx.Uint("max"))
		if oracle.HasModuloBias(seedMin, seedMax) {
			logger.Warn("Seed range is not a power of two, samples carry a slight modulo bias", "min", seedMin, "max", seedMax)
		}

		runner := oracle.NewFunctionRunner(oracle.RunnerConfig{
			Function:  enclave.Function,
			SignerKey: enclave.Key,
			Min:       seedMin,
			Max:       seedMax,
		}, oracle.NewSampler(rand.Reader), ledgerClient, logger)
		worker := oracle.NewWorker(oracle.WorkerConfig{
			PollInterval: cCtx.Duration("poll-interval"),
			Concurrency:  cCtx.Int("concurrency"),
		}, runner, ledgerClient, logger)

		return worker.Run(ctx)
	},
}

func shamirConfig(cCtx *cli.Context) (kms.ShamirConfig, error) {
	var config kms.ShamirConfig
	for _, admin := range cCtx.StringSlice(AdminFlag.Name) {
		id, err := interfaces.NewIdentityFromString(admin)
		if err != nil {
			return config, fmt.Errorf("invalid admin %q: %w", admin, err)
		}
		config.Admins = append(config.Admins, id)
	}
	config.Threshold = cCtx.Int(ThresholdFlag.Name)
	return config, nil
}

func masterKeyFrom(cCtx *cli.Context) ([]byte, error) {
	masterKeyHex := cCtx.String(MasterKeyFlag.Name)
	if masterKeyHex == "" {
		return nil, nil
	}
	masterKey, err := hex.DecodeString(strings.TrimPrefix(masterKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid master key: %w", err)
	}
	return masterKey, nil
}

// unlockKMS returns the oracle's KMS, built from --master-key or
// reconstructed from administrator shares received on the admin API.
func unlockKMS(cCtx *cli.Context, logger *slog.Logger) (*kms.SimpleKMS, error) {
	masterKey, err := masterKeyFrom(cCtx)
	if err != nil {
		return nil, err
	}
	if masterKey != nil {
		return kms.NewSimpleKMS(masterKey)
	}

	config, err := shamirConfig(cCtx)
	if err != nil {
		return nil, err
	}
	if len(config.Admins) == 0 {
		return nil, errors.New("either --master-key or --admin is required")
	}

	shamirKMS, err := kms.NewShamirKMSRecovery(config)
	if err != nil {
		return nil, err
	}
	return waitForShares(cCtx, shamirKMS, logger)
}

func setupEnclave(cCtx *cli.Context, logger *slog.Logger) (*oracle.Enclave, error) {
	function, err := interfaces.NewIdentityFromString(cCtx.String(flags.FunctionFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid function: %w", err)
	}

	var dummyMeasurement cryptoutils.Measurement
	if m := cCtx.String(DummyMeasurementFlag.Name); m != "" {
		dummyMeasurement, err = cryptoutils.ParseMeasurement(m)
		if err != nil {
			return nil, err
		}
	}
	provider, err := cryptoutils.AttestationProviderFor(cCtx.String(AttestationTypeFlag.Name), cCtx.String(RemoteAttestationFlag.Name), dummyMeasurement)
	if err != nil {
		return nil, err
	}

	simpleKMS, err := unlockKMS(cCtx, logger)
	if err != nil {
		logger.Error("Failed to initialize KMS", "err", err)
		return nil, err
	}

	key, quote, err := simpleKMS.WithAttestationProvider(provider).EnclaveSigner(function)
	if err != nil {
		logger.Error("Failed to derive enclave signer", "err", err)
		return nil, err
	}

	enclave := &oracle.Enclave{
		Function: function,
		Key:      key,
		Provider: provider,
		Quote:    quote,
		Log:      logger,
	}
	logger.Info("Enclave signer ready", "function", function, "signer", enclave.Signer())
	return enclave, nil
}
