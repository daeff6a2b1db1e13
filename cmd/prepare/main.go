package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethaccount/userop/src/account"
	"github.com/ethaccount/userop/src/app"
	"github.com/ethaccount/userop/src/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	config *app.AppConfig

	owner       string
	salt        string
	sign        bool
	send        bool
	wait        bool
	waitTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "prepare [file]",
	Short: "Fill in a partial user operation",
	Long: `Reads a partial user operation as JSON from file, or stdin when no file is
given, and fills in sender, nonce, initCode, fees, gas limits and paymaster data.

The completed user operation and its hash are printed as JSON. With --sign the
operation is signed with OWNER_PRIVATE_KEY, and with --send it is submitted to
the bundler.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), args)
	},
}

func init() {
	rootCmd.Flags().StringVar(&owner, "owner", "", "account owner address (defaults to DEFAULT_ACCOUNT_OWNER, or the signer with --sign)")
	rootCmd.Flags().StringVar(&salt, "salt", "", "account salt (defaults to DEFAULT_ACCOUNT_SALT for the default owner, zero otherwise)")
	rootCmd.Flags().BoolVar(&sign, "sign", false, "sign the user operation with OWNER_PRIVATE_KEY")
	rootCmd.Flags().BoolVar(&send, "send", false, "send the signed user operation to the bundler (implies --sign)")
	rootCmd.Flags().BoolVar(&wait, "wait", false, "wait for the user operation receipt after sending")
	rootCmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 2*time.Minute, "how long to wait for the receipt")
}

type output struct {
	*service.PrepareResult
	Sender    common.Address                `json:"sender"`
	Submitted bool                          `json:"submitted"`
	Receipt   *erc4337.UserOperationReceipt `json:"receipt,omitempty"`
}

func main() {
	_ = godotenv.Load()

	config = app.NewCLIConfig()
	logger := app.InitLogger(*config.LogLevel, "prepare")
	ctx := logger.WithContext(context.Background())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func readPartial(args []string) (*erc4337.PartialUserOperation, error) {
	var r io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		r = f
	}

	var partial erc4337.PartialUserOperation
	if err := json.NewDecoder(r).Decode(&partial); err != nil {
		return nil, fmt.Errorf("failed to parse user operation: %w", err)
	}
	return &partial, nil
}

func run(ctx context.Context, args []string) error {
	logger := zerolog.Ctx(ctx)

	if send {
		sign = true
	}

	partial, err := readPartial(args)
	if err != nil {
		return err
	}

	var signer *service.OwnerSigner
	if sign {
		key := os.Getenv("OWNER_PRIVATE_KEY")
		if key == "" {
			return fmt.Errorf("OWNER_PRIVATE_KEY not set in environment")
		}
		signer, err = service.NewOwnerSigner(key)
		if err != nil {
			return err
		}
		logger.Info().Str("address", signer.Address().Hex()).Msg("Signing with owner key")
	}

	accountCfg := config.AccountConfig()
	hasOwner := config.DefaultAccountOwner != nil
	switch {
	case owner != "":
		if !common.IsHexAddress(owner) {
			return fmt.Errorf("invalid owner address: %s", owner)
		}
		accountCfg.Owner = common.HexToAddress(owner)
		accountCfg.Salt = new(big.Int)
		hasOwner = true
	case !hasOwner && signer != nil:
		accountCfg.Owner = signer.Address()
		accountCfg.Salt = new(big.Int)
		hasOwner = true
	}
	if salt != "" {
		parsed, ok := new(big.Int).SetString(salt, 0)
		if !ok || parsed.Sign() < 0 {
			return fmt.Errorf("invalid salt: %s", salt)
		}
		accountCfg.Salt = parsed
	}

	blockchain, err := app.NewBlockchain(ctx, *config)
	if err != nil {
		return err
	}
	defer blockchain.Close()

	var acct account.SmartAccount
	if hasOwner {
		acct, err = account.New(ctx, blockchain.Client, accountCfg)
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
	}

	// the account is passed explicitly
	preparerCfg := *config
	preparerCfg.DefaultAccountOwner = nil
	preparer, err := app.NewPreparer(ctx, preparerCfg, blockchain)
	if err != nil {
		return err
	}

	userOp, err := preparer.PrepareUserOperationRequest(ctx, partial, acct)
	if err != nil {
		return err
	}

	entryPoint := acct.EntryPoint()
	chainId := blockchain.ChainID()

	userOpHash, err := userOp.GetUserOpHash(entryPoint, chainId)
	if err != nil {
		return err
	}
	if signer != nil {
		if signer.Address() != accountCfg.Owner {
			logger.Warn().
				Str("signer", signer.Address().Hex()).
				Str("owner", accountCfg.Owner.Hex()).
				Msg("Signer is not the account owner, the bundler will reject the signature")
		}
		if userOpHash, err = signer.Sign(ctx, userOp, entryPoint, chainId); err != nil {
			return err
		}
	}

	out := output{
		PrepareResult: &service.PrepareResult{
			UserOperation: userOp,
			UserOpHash:    userOpHash,
			ChainID:       chainId.Int64(),
			EntryPoint:    entryPoint,
		},
		Sender: userOp.Sender,
	}

	if send {
		sentHash, err := blockchain.Bundler.SendUserOperation(ctx, userOp, entryPoint)
		if err != nil {
			return fmt.Errorf("failed to send user operation: %w", err)
		}
		out.Submitted = true
		logger.Info().Str("user_op_hash", sentHash.Hex()).Msg("User operation sent")

		if wait {
			receipt, err := waitForReceipt(ctx, blockchain.Bundler, sentHash)
			if err != nil {
				return err
			}
			out.Receipt = receipt
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func waitForReceipt(ctx context.Context, bundler erc4337.Bundler, userOpHash common.Hash) (*erc4337.UserOperationReceipt, error) {
	logger := zerolog.Ctx(ctx)

	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := bundler.GetUserOperationReceipt(ctx, userOpHash)
		if err != nil {
			logger.Debug().Err(err).Msg("Receipt not yet available")
		} else if receipt != nil {
			logger.Info().
				Bool("success", receipt.Success).
				Str("transaction_hash", receipt.TransactionHash().Hex()).
				Msg("User operation receipt received")
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for user operation receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
