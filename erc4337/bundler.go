package erc4337

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

type GasEstimates struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
}

// TransactionReceipt is the receipt of the bundle transaction that included a user operation
type TransactionReceipt struct {
	BlockHash         common.Hash    `json:"blockHash"`
	BlockNumber       string         `json:"blockNumber"`
	From              common.Address `json:"from"`
	CumulativeGasUsed string         `json:"cumulativeGasUsed"`
	GasUsed           string         `json:"gasUsed"`
	Logs              []*types.Log   `json:"logs"`
	LogsBloom         types.Bloom    `json:"logsBloom"`
	TransactionHash   common.Hash    `json:"transactionHash"`
	TransactionIndex  string         `json:"transactionIndex"`
	EffectiveGasPrice string         `json:"effectiveGasPrice"`
}

type UserOperationReceipt struct {
	UserOpHash    common.Hash         `json:"userOpHash"`
	Sender        common.Address      `json:"sender"`
	Paymaster     common.Address      `json:"paymaster"`
	Nonce         string              `json:"nonce"`
	Success       bool                `json:"success"`
	Reason        string              `json:"reason,omitempty"`
	ActualGasCost string              `json:"actualGasCost"`
	ActualGasUsed string              `json:"actualGasUsed"`
	Receipt       *TransactionReceipt `json:"receipt"`
	Logs          []*types.Log        `json:"logs"`
}

// TransactionHash returns the hash of the bundle transaction, or the zero hash when unknown
func (r *UserOperationReceipt) TransactionHash() common.Hash {
	if r.Receipt == nil {
		return common.Hash{}
	}
	return r.Receipt.TransactionHash
}

type Bundler interface {
	ChainId(ctx context.Context) (*big.Int, error)
	SupportedEntryPoints(ctx context.Context) ([]common.Address, error)
	EstimateUserOperationGas(ctx context.Context, op *UserOperation, entryPoint common.Address) (*GasEstimates, error)
	SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error)
	GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash) (*UserOperationReceipt, error)
}

type BundlerClient struct {
	client *rpc.Client
}

func DialContext(ctx context.Context, rawurl string) (Bundler, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return NewBundlerClient(c), nil
}

func NewBundlerClient(c *rpc.Client) Bundler {
	return &BundlerClient{c}
}

func (b *BundlerClient) ChainId(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	err := b.client.CallContext(ctx, &result, "eth_chainId")
	if err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

func (b *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var result []common.Address
	err := b.client.CallContext(ctx, &result, "eth_supportedEntryPoints")
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *BundlerClient) EstimateUserOperationGas(ctx context.Context, op *UserOperation, entryPoint common.Address) (*GasEstimates, error) {
	var estimate GasEstimates
	err := b.client.CallContext(ctx, &estimate, "eth_estimateUserOperationGas", op, entryPoint)
	if err != nil {
		return nil, err
	}
	return &estimate, nil
}

func (b *BundlerClient) SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error) {
	var result common.Hash
	err := b.client.CallContext(ctx, &result, "eth_sendUserOperation", op, entryPoint)
	return result, err
}

// GetUserOperationReceipt returns nil without error while the operation is still pending
func (b *BundlerClient) GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash) (*UserOperationReceipt, error) {
	var receipt *UserOperationReceipt
	err := b.client.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", userOpHash)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (b *BundlerClient) Close() {
	b.client.Close()
}
