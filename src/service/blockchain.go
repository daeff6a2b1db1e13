package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

type BlockchainConfig struct {
	RPCURL              string
	BundlerURL          string
	PaymasterURL        string
	SponsorshipPolicyID string
	EntryPoint          common.Address
}

// BlockchainService owns the connections to the node, the bundler and the paymaster
type BlockchainService struct {
	Client    *ethclient.Client
	Bundler   erc4337.Bundler
	Paymaster *erc4337.PaymasterClient

	entryPoint common.Address
	chainId    *big.Int
}

// NewBlockchainService dials every configured endpoint. The paymaster is optional.
func NewBlockchainService(ctx context.Context, config BlockchainConfig) (*BlockchainService, error) {
	client, err := ethclient.DialContext(ctx, config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	bundler, err := erc4337.DialContext(ctx, config.BundlerURL)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to dial bundler: %w", err)
	}

	b := &BlockchainService{
		Client:     client,
		Bundler:    bundler,
		entryPoint: config.EntryPoint,
	}

	if config.PaymasterURL != "" {
		paymaster, err := erc4337.DialPaymaster(ctx, config.PaymasterURL, config.SponsorshipPolicyID)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to dial paymaster: %w", err)
		}
		b.Paymaster = paymaster
	}

	return b, nil
}

// logger wraps the execution context with component info
func (b *BlockchainService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "blockchain").Logger()
	return &l
}

// ChainID returns the chain id reported by the node
func (b *BlockchainService) ChainID() *big.Int {
	return b.chainId
}

// Verify checks that the node and the bundler serve the same chain and that the
// bundler supports the configured entry point
func (b *BlockchainService) Verify(ctx context.Context) error {
	nodeChainId, err := b.Client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get node chain id: %w", err)
	}
	if err := verifyBundler(ctx, b.Bundler, nodeChainId, b.entryPoint); err != nil {
		return err
	}
	b.chainId = nodeChainId

	b.logger(ctx).Info().
		Str("chain_id", nodeChainId.String()).
		Str("entry_point", b.entryPoint.Hex()).
		Bool("paymaster", b.Paymaster != nil).
		Msg("blockchain connections verified")

	return nil
}

func verifyBundler(ctx context.Context, bundler erc4337.Bundler, chainId *big.Int, entryPoint common.Address) error {
	bundlerChainId, err := bundler.ChainId(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bundler chain id: %w", err)
	}
	if bundlerChainId.Cmp(chainId) != 0 {
		return fmt.Errorf("bundler chain id %s does not match node chain id %s", bundlerChainId, chainId)
	}

	entryPoints, err := bundler.SupportedEntryPoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to get supported entry points: %w", err)
	}
	for _, ep := range entryPoints {
		if ep == entryPoint {
			return nil
		}
	}
	return fmt.Errorf("bundler does not support entry point %s", entryPoint.Hex())
}

// Close closes all connections
func (b *BlockchainService) Close() {
	if b.Client != nil {
		b.Client.Close()
	}
	if closer, ok := b.Bundler.(interface{ Close() }); ok {
		closer.Close()
	}
	if b.Paymaster != nil {
		b.Paymaster.Close()
	}
}
