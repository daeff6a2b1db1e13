package account

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

const (
	simpleAccountFactoryABI = `[{"inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"name":"createAccount","outputs":[{"name":"ret","type":"address"}],"stateMutability":"nonpayable","type":"function"},{"inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"name":"getAddress","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}]`
	entryPointNonceABI      = `[{"inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"name":"getNonce","outputs":[{"name":"nonce","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

// dummySignature is an ECDSA-shaped placeholder, valid in length only, used for gas estimation
var dummySignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

var (
	factoryABI    = mustParseABI(simpleAccountFactoryABI)
	entryPointABI = mustParseABI(entryPointNonceABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// SimpleAccount is the eth-infinitism SimpleAccount deployed through SimpleAccountFactory
type SimpleAccount struct {
	client     NetworkClient
	address    common.Address
	owner      common.Address
	salt       *big.Int
	factory    common.Address
	entryPoint common.Address
}

// NewSimpleAccount resolves the counterfactual address from the factory unless cfg.Address is set
func NewSimpleAccount(ctx context.Context, client NetworkClient, cfg Config) (*SimpleAccount, error) {
	if client == nil {
		return nil, errors.New("network client is required")
	}
	if cfg.EntryPoint == (common.Address{}) {
		return nil, errors.New("entry point address is required")
	}

	salt := cfg.Salt
	if salt == nil {
		salt = big.NewInt(0)
	}

	a := &SimpleAccount{
		client:     client,
		owner:      cfg.Owner,
		salt:       salt,
		factory:    cfg.Factory,
		entryPoint: cfg.EntryPoint,
	}

	if cfg.Address != nil {
		a.address = *cfg.Address
		return a, nil
	}

	if cfg.Factory == (common.Address{}) {
		return nil, errors.New("factory address is required to derive the account address")
	}

	address, err := a.counterfactualAddress(ctx)
	if err != nil {
		return nil, err
	}
	a.address = address

	zerolog.Ctx(ctx).Debug().
		Str("account", address.Hex()).
		Str("owner", cfg.Owner.Hex()).
		Str("salt", salt.String()).
		Msg("resolved simple account address")

	return a, nil
}

func (a *SimpleAccount) counterfactualAddress(ctx context.Context) (common.Address, error) {
	calldata, err := factoryABI.Pack("getAddress", a.owner, a.salt)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getAddress: %w", err)
	}

	output, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.factory, Data: calldata}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to call getAddress: %w", err)
	}

	results, err := factoryABI.Unpack("getAddress", output)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack getAddress: %w", err)
	}
	return results[0].(common.Address), nil
}

func (a *SimpleAccount) Address() common.Address {
	return a.address
}

func (a *SimpleAccount) EntryPoint() common.Address {
	return a.entryPoint
}

func (a *SimpleAccount) Client() NetworkClient {
	return a.client
}

// GetNonce reads the next nonce for key 0 from the EntryPoint
func (a *SimpleAccount) GetNonce(ctx context.Context) (*big.Int, error) {
	calldata, err := entryPointABI.Pack("getNonce", a.address, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %w", err)
	}

	output, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.entryPoint, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call getNonce: %w", err)
	}

	results, err := entryPointABI.Unpack("getNonce", output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getNonce: %w", err)
	}
	return results[0].(*big.Int), nil
}

// GetInitCode returns factory ++ createAccount(owner, salt) while the account has no code,
// and an empty init code once it is deployed.
func (a *SimpleAccount) GetInitCode(ctx context.Context) ([]byte, error) {
	code, err := a.client.CodeAt(ctx, a.address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get account code: %w", err)
	}
	if len(code) > 0 {
		return []byte{}, nil
	}

	if a.factory == (common.Address{}) {
		return nil, fmt.Errorf("account %s is not deployed and no factory is configured", a.address.Hex())
	}

	calldata, err := factoryABI.Pack("createAccount", a.owner, a.salt)
	if err != nil {
		return nil, fmt.Errorf("failed to pack createAccount: %w", err)
	}

	initCode := make([]byte, 0, common.AddressLength+len(calldata))
	initCode = append(initCode, a.factory.Bytes()...)
	initCode = append(initCode, calldata...)
	return initCode, nil
}

func (a *SimpleAccount) GetDummySignature(_ context.Context) ([]byte, error) {
	return common.CopyBytes(dummySignature), nil
}
