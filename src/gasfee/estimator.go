package gasfee

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultBaseFeeMultiplier leaves headroom for base fee growth over the next blocks
var DefaultBaseFeeMultiplier = decimal.RequireFromString("1.2")

// FeeClient is the chain access the estimator needs
type FeeClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Fees are the suggested EIP-1559 fee caps for a user operation
type Fees struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

type Estimator interface {
	EstimateFeesPerGas(ctx context.Context, client FeeClient) (*Fees, error)
}

// EIP1559Estimator computes maxFeePerGas = baseFee * multiplier + maxPriorityFeePerGas
type EIP1559Estimator struct {
	baseFeeMultiplier decimal.Decimal
}

func NewEIP1559Estimator(baseFeeMultiplier decimal.Decimal) (*EIP1559Estimator, error) {
	if baseFeeMultiplier.LessThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("base fee multiplier must be >= 1, got %s", baseFeeMultiplier.String())
	}
	return &EIP1559Estimator{baseFeeMultiplier: baseFeeMultiplier}, nil
}

// logger wraps the execution context with component info
func (e *EIP1559Estimator) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "fee-estimator").Logger()
	return &l
}

func (e *EIP1559Estimator) EstimateFeesPerGas(ctx context.Context, client FeeClient) (*Fees, error) {
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}

	// Pre-London chains: the tip is the whole price
	if header.BaseFee == nil {
		e.logger(ctx).Debug().Str("tip_cap", tipCap.String()).Msg("chain has no base fee")
		return &Fees{
			MaxFeePerGas:         new(big.Int).Set(tipCap),
			MaxPriorityFeePerGas: new(big.Int).Set(tipCap),
		}, nil
	}

	scaledBaseFee := decimal.NewFromBigInt(header.BaseFee, 0).Mul(e.baseFeeMultiplier).BigInt()
	maxFeePerGas := new(big.Int).Add(scaledBaseFee, tipCap)

	e.logger(ctx).Debug().
		Str("base_fee", header.BaseFee.String()).
		Str("max_fee_per_gas", maxFeePerGas.String()).
		Str("max_priority_fee_per_gas", tipCap.String()).
		Msg("estimated fees per gas")

	return &Fees{
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: new(big.Int).Set(tipCap),
	}, nil
}
