package account

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NetworkClient is the subset of *ethclient.Client an account and the fee estimator need
type NetworkClient interface {
	ethereum.ContractCaller
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// SmartAccount is the capability set of a contract account used to fill in a user operation
type SmartAccount interface {
	Address() common.Address
	EntryPoint() common.Address
	GetNonce(ctx context.Context) (*big.Int, error)
	GetInitCode(ctx context.Context) ([]byte, error)
	GetDummySignature(ctx context.Context) ([]byte, error)
	Client() NetworkClient
}

// Kind selects an account implementation
type Kind string

const (
	KindSimple Kind = "simple"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSimple, "":
		return KindSimple, nil
	default:
		return "", fmt.Errorf("unsupported account type: %s", s)
	}
}

// Config describes a counterfactual account owned by an EOA
type Config struct {
	Kind       Kind
	Owner      common.Address
	Salt       *big.Int
	Factory    common.Address
	EntryPoint common.Address

	// Address skips the factory lookup when the account address is already known
	Address *common.Address
}

// New builds the account implementation selected by cfg.Kind
func New(ctx context.Context, client NetworkClient, cfg Config) (SmartAccount, error) {
	switch cfg.Kind {
	case KindSimple, "":
		return NewSimpleAccount(ctx, client, cfg)
	default:
		return nil, fmt.Errorf("unsupported account type: %s", cfg.Kind)
	}
}
