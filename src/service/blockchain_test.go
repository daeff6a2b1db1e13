package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestVerifyBundler(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		chainId    int64
		entryPoint common.Address
		wantErr    string
	}{
		{name: "matching", chainId: 11155111, entryPoint: erc4337.EntryPointV06},
		{name: "chain mismatch", chainId: 1, entryPoint: erc4337.EntryPointV06, wantErr: "does not match"},
		{name: "unsupported entry point", chainId: 11155111, entryPoint: common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032"), wantErr: "does not support"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundler := &fakeBundler{chainId: big.NewInt(11155111)}
			err := verifyBundler(ctx, bundler, big.NewInt(tt.chainId), tt.entryPoint)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
