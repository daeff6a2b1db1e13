package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// OwnerSigner signs user operations on behalf of the EOA owning a simple account
type OwnerSigner struct {
	privateKey *ecdsa.PrivateKey
}

func NewOwnerSigner(privateKeyHex string) (*OwnerSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &OwnerSigner{privateKey: privateKey}, nil
}

// logger wraps the execution context with component info
func (s *OwnerSigner) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "signer").Logger()
	return &l
}

func (s *OwnerSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.privateKey.PublicKey)
}

// Sign sets the signature of userOp to the owner's personal-sign signature over
// its hash. The returned hash is the one that was signed.
func (s *OwnerSigner) Sign(ctx context.Context, userOp *erc4337.UserOperation, entryPoint common.Address, chainId *big.Int) (common.Hash, error) {
	userOpHash, err := userOp.GetUserOpHash(entryPoint, chainId)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to create user operation hash: %w", err)
	}

	signature, err := crypto.Sign(accounts.TextHash(userOpHash.Bytes()), s.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign user operation: %w", err)
	}
	// ecrecover in the account expects v in {27, 28}
	signature[crypto.RecoveryIDOffset] += 27

	userOp.Signature = hexutil.Bytes(signature)

	s.logger(ctx).Debug().
		Str("user_op_hash", userOpHash.Hex()).
		Str("signer", s.Address().Hex()).
		Msg("user operation signed")

	return userOpHash, nil
}
