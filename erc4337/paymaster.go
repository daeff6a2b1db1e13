package erc4337

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// SponsorResult holds the gas-payment fields returned by a paymaster
type SponsorResult struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit"`
}

type sponsorshipPolicy struct {
	SponsorshipPolicyId string `json:"sponsorshipPolicyId"`
}

// PaymasterClient talks to a paymaster over the pm_ JSON-RPC namespace
type PaymasterClient struct {
	client   *rpc.Client
	policyId string
}

func DialPaymaster(ctx context.Context, rawurl string, policyId string) (*PaymasterClient, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return NewPaymasterClient(c, policyId), nil
}

func NewPaymasterClient(c *rpc.Client, policyId string) *PaymasterClient {
	return &PaymasterClient{client: c, policyId: policyId}
}

// SponsorUserOperation asks the paymaster to sponsor op. The paymaster simulates
// the operation and returns paymasterAndData along with the gas limits it used.
func (p *PaymasterClient) SponsorUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (*SponsorResult, error) {
	args := []interface{}{op, entryPoint}
	if p.policyId != "" {
		args = append(args, sponsorshipPolicy{SponsorshipPolicyId: p.policyId})
	}

	var result SponsorResult
	if err := p.client.CallContext(ctx, &result, "pm_sponsorUserOperation", args...); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *PaymasterClient) Close() {
	p.client.Close()
}
