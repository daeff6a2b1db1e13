package gasfee

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeeClient struct {
	baseFee   *big.Int
	tipCap    *big.Int
	headerErr error
	tipErr    error
}

func (c *fakeFeeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if c.headerErr != nil {
		return nil, c.headerErr
	}
	return &types.Header{BaseFee: c.baseFee}, nil
}

func (c *fakeFeeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	if c.tipErr != nil {
		return nil, c.tipErr
	}
	return c.tipCap, nil
}

func TestEIP1559Estimator(t *testing.T) {
	tests := []struct {
		name           string
		multiplier     string
		baseFee        *big.Int
		tipCap         *big.Int
		expectedMaxFee int64
		expectedTip    int64
	}{
		{name: "default multiplier", multiplier: "1.2", baseFee: big.NewInt(100), tipCap: big.NewInt(2), expectedMaxFee: 122, expectedTip: 2},
		{name: "fraction truncated", multiplier: "1.2", baseFee: big.NewInt(7), tipCap: big.NewInt(1), expectedMaxFee: 9, expectedTip: 1},
		{name: "multiplier of two", multiplier: "2", baseFee: big.NewInt(30_000_000_000), tipCap: big.NewInt(1_000_000_000), expectedMaxFee: 61_000_000_000, expectedTip: 1_000_000_000},
		{name: "no base fee", multiplier: "1.2", baseFee: nil, tipCap: big.NewInt(5), expectedMaxFee: 5, expectedTip: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			estimator, err := NewEIP1559Estimator(decimal.RequireFromString(tt.multiplier))
			require.NoError(t, err)

			fees, err := estimator.EstimateFeesPerGas(context.Background(), &fakeFeeClient{baseFee: tt.baseFee, tipCap: tt.tipCap})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedMaxFee, fees.MaxFeePerGas.Int64())
			assert.Equal(t, tt.expectedTip, fees.MaxPriorityFeePerGas.Int64())
		})
	}
}

func TestEIP1559Estimator_Errors(t *testing.T) {
	estimator, err := NewEIP1559Estimator(DefaultBaseFeeMultiplier)
	require.NoError(t, err)

	_, err = estimator.EstimateFeesPerGas(context.Background(), &fakeFeeClient{headerErr: errors.New("header unavailable")})
	assert.ErrorContains(t, err, "header unavailable")

	_, err = estimator.EstimateFeesPerGas(context.Background(), &fakeFeeClient{baseFee: big.NewInt(1), tipErr: errors.New("tip unavailable")})
	assert.ErrorContains(t, err, "tip unavailable")
}

func TestNewEIP1559Estimator_RejectsSmallMultiplier(t *testing.T) {
	_, err := NewEIP1559Estimator(decimal.RequireFromString("0.9"))
	assert.Error(t, err)
}
