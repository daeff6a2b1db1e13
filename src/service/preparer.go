package service

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethaccount/userop/src/account"
	"github.com/ethaccount/userop/src/domain"
	"github.com/ethaccount/userop/src/gasfee"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Sponsor resolves the gas-payment fields of a draft user operation
type Sponsor interface {
	SponsorUserOperation(ctx context.Context, op *erc4337.UserOperation, acct account.SmartAccount) (*erc4337.SponsorResult, error)
}

type PreparerConfig struct {
	// DefaultAccount is used when a request does not name an account. May be nil.
	DefaultAccount account.SmartAccount
}

// UserOperationPreparer fills in the fields a caller left out of a user operation
type UserOperationPreparer struct {
	feeEstimator   gasfee.Estimator
	sponsor        Sponsor
	defaultAccount account.SmartAccount
}

func NewUserOperationPreparer(feeEstimator gasfee.Estimator, sponsor Sponsor, config PreparerConfig) *UserOperationPreparer {
	return &UserOperationPreparer{
		feeEstimator:   feeEstimator,
		sponsor:        sponsor,
		defaultAccount: config.DefaultAccount,
	}
}

// logger wraps the execution context with component info
func (p *UserOperationPreparer) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "userop-preparer").Logger()
	return &l
}

// PrepareUserOperationRequest returns a complete user operation built from partial.
//
// Each field is taken from the caller when present, otherwise from acct (or the
// configured default account) or the fee estimator, otherwise zero. The sponsor
// then sets paymasterAndData and the three gas limits unconditionally.
// Collaborator errors are returned as is.
func (p *UserOperationPreparer) PrepareUserOperationRequest(ctx context.Context, partial *erc4337.PartialUserOperation, acct account.SmartAccount) (*erc4337.UserOperation, error) {
	if acct == nil {
		acct = p.defaultAccount
	}
	if acct == nil {
		return nil, domain.NewError(
			domain.ErrorCodeAccountNotFound,
			errors.New("no account provided and no default account configured"),
			domain.WithMsg("An account is required to prepare a user operation"),
		)
	}
	if partial == nil || partial.CallData == nil {
		return nil, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("callData is required"),
			domain.WithMsg("callData is required"),
			domain.WithDetail(map[string]interface{}{"field": "callData"}),
		)
	}

	var (
		sender    common.Address
		nonce     *big.Int
		initCode  []byte
		signature []byte
		fees      *gasfee.Fees
	)

	var g errgroup.Group

	g.Go(func() error {
		if partial.Sender != nil {
			sender = *partial.Sender
			return nil
		}
		sender = acct.Address()
		return nil
	})

	g.Go(func() error {
		if partial.Nonce != nil {
			nonce = partial.Nonce.ToInt()
			return nil
		}
		n, err := acct.GetNonce(ctx)
		if err != nil {
			return err
		}
		nonce = n
		return nil
	})

	g.Go(func() error {
		if partial.InitCode != nil {
			initCode = partial.InitCode
			return nil
		}
		code, err := acct.GetInitCode(ctx)
		if err != nil {
			return err
		}
		initCode = code
		return nil
	})

	g.Go(func() error {
		if partial.Signature != nil {
			signature = partial.Signature
			return nil
		}
		sig, err := acct.GetDummySignature(ctx)
		if err != nil {
			return err
		}
		signature = sig
		return nil
	})

	if partial.MaxFeePerGas == nil || partial.MaxPriorityFeePerGas == nil {
		g.Go(func() error {
			f, err := p.feeEstimator.EstimateFeesPerGas(ctx, acct.Client())
			if err != nil {
				return err
			}
			fees = f
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var estimatedMaxFee, estimatedPriorityFee *big.Int
	if fees != nil {
		estimatedMaxFee = fees.MaxFeePerGas
		estimatedPriorityFee = fees.MaxPriorityFeePerGas
	}

	userOp := &erc4337.UserOperation{
		Sender:               sender,
		Nonce:                firstOrZero(nonce),
		InitCode:             nonNilBytes(initCode),
		CallData:             partial.CallData,
		CallGasLimit:         firstOrZero(partial.CallGasLimit.ToInt()),
		VerificationGasLimit: firstOrZero(partial.VerificationGasLimit.ToInt()),
		PreVerificationGas:   firstOrZero(partial.PreVerificationGas.ToInt()),
		MaxFeePerGas:         firstOrZero(partial.MaxFeePerGas.ToInt(), estimatedMaxFee),
		MaxPriorityFeePerGas: firstOrZero(partial.MaxPriorityFeePerGas.ToInt(), estimatedPriorityFee),
		PaymasterAndData:     hexutil.Bytes{},
		Signature:            nonNilBytes(signature),
	}

	p.logger(ctx).Debug().
		Str("sender", userOp.Sender.Hex()).
		Str("nonce", userOp.Nonce.String()).
		Bool("fees_estimated", fees != nil).
		Msg("draft user operation assembled")

	sponsored, err := p.sponsor.SponsorUserOperation(ctx, userOp, acct)
	if err != nil {
		return nil, err
	}
	if sponsored == nil {
		return nil, errors.New("sponsor returned no result")
	}

	userOp.PaymasterAndData = nonNilBytes(sponsored.PaymasterAndData)
	userOp.CallGasLimit = firstOrZero(sponsored.CallGasLimit.ToInt())
	userOp.VerificationGasLimit = firstOrZero(sponsored.VerificationGasLimit.ToInt())
	userOp.PreVerificationGas = firstOrZero(sponsored.PreVerificationGas.ToInt())

	p.logger(ctx).Debug().
		Str("sender", userOp.Sender.Hex()).
		Int("paymaster_and_data_len", len(userOp.PaymasterAndData)).
		Msg("user operation prepared")

	return userOp, nil
}

// firstOrZero returns a copy of the first non-nil value, or zero
func firstOrZero(values ...*big.Int) *hexutil.Big {
	for _, v := range values {
		if v != nil {
			return (*hexutil.Big)(new(big.Int).Set(v))
		}
	}
	return (*hexutil.Big)(big.NewInt(0))
}

func nonNilBytes(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return b
}
