package service

import (
	"context"
	"fmt"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethaccount/userop/src/account"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

type paymasterAPI interface {
	SponsorUserOperation(ctx context.Context, op *erc4337.UserOperation, entryPoint common.Address) (*erc4337.SponsorResult, error)
}

// PaymasterSponsor delegates sponsorship to a paymaster service
type PaymasterSponsor struct {
	paymaster paymasterAPI
}

func NewPaymasterSponsor(paymaster paymasterAPI) *PaymasterSponsor {
	return &PaymasterSponsor{paymaster: paymaster}
}

func (s *PaymasterSponsor) SponsorUserOperation(ctx context.Context, op *erc4337.UserOperation, acct account.SmartAccount) (*erc4337.SponsorResult, error) {
	zerolog.Ctx(ctx).Debug().
		Str("sender", op.Sender.Hex()).
		Str("entry_point", acct.EntryPoint().Hex()).
		Msg("requesting paymaster sponsorship")

	return s.paymaster.SponsorUserOperation(ctx, op, acct.EntryPoint())
}

// SelfFundedSponsor is used when no paymaster is configured: the account pays
// for itself and the bundler supplies the gas limits.
type SelfFundedSponsor struct {
	bundler erc4337.Bundler
}

func NewSelfFundedSponsor(bundler erc4337.Bundler) *SelfFundedSponsor {
	return &SelfFundedSponsor{bundler: bundler}
}

func (s *SelfFundedSponsor) SponsorUserOperation(ctx context.Context, op *erc4337.UserOperation, acct account.SmartAccount) (*erc4337.SponsorResult, error) {
	estimates, err := s.bundler.EstimateUserOperationGas(ctx, op, acct.EntryPoint())
	if err != nil {
		return nil, fmt.Errorf("failed to estimate user operation gas: %w", err)
	}

	return &erc4337.SponsorResult{
		PaymasterAndData:     hexutil.Bytes{},
		PreVerificationGas:   estimates.PreVerificationGas,
		VerificationGasLimit: estimates.VerificationGasLimit,
		CallGasLimit:         estimates.CallGasLimit,
	}, nil
}
