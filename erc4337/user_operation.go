package erc4337

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EntryPointV06 address constant
var EntryPointV06 = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

// UserOperation represents the ERC-4337 v0.6 user operation structure.
// A prepared operation has every field set.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// PartialUserOperation is a user operation as supplied by a caller.
// Nil fields are treated as absent; only CallData is required.
type PartialUserOperation struct {
	Sender               *common.Address `json:"sender,omitempty"`
	Nonce                *hexutil.Big    `json:"nonce,omitempty"`
	InitCode             hexutil.Bytes   `json:"initCode"`
	CallData             hexutil.Bytes   `json:"callData"`
	CallGasLimit         *hexutil.Big    `json:"callGasLimit,omitempty"`
	VerificationGasLimit *hexutil.Big    `json:"verificationGasLimit,omitempty"`
	PreVerificationGas   *hexutil.Big    `json:"preVerificationGas,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	PaymasterAndData     hexutil.Bytes   `json:"paymasterAndData"`
	Signature            hexutil.Bytes   `json:"signature"`
}

// UnmarshalJSON decodes a JSON null in the byte fields as absent, the same
// way it is for the numeric fields.
func (p *PartialUserOperation) UnmarshalJSON(input []byte) error {
	type partial PartialUserOperation
	var dec struct {
		partial
		InitCode         *hexutil.Bytes `json:"initCode"`
		CallData         *hexutil.Bytes `json:"callData"`
		PaymasterAndData *hexutil.Bytes `json:"paymasterAndData"`
		Signature        *hexutil.Bytes `json:"signature"`
	}
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}

	*p = PartialUserOperation(dec.partial)
	p.InitCode = derefBytes(dec.InitCode)
	p.CallData = derefBytes(dec.CallData)
	p.PaymasterAndData = derefBytes(dec.PaymasterAndData)
	p.Signature = derefBytes(dec.Signature)
	return nil
}

func derefBytes(b *hexutil.Bytes) hexutil.Bytes {
	if b == nil {
		return nil
	}
	return *b
}

// IsComplete reports whether every numeric field of the operation is set.
func (uo *UserOperation) IsComplete() bool {
	return uo.Nonce != nil &&
		uo.CallGasLimit != nil &&
		uo.VerificationGasLimit != nil &&
		uo.PreVerificationGas != nil &&
		uo.MaxFeePerGas != nil &&
		uo.MaxPriorityFeePerGas != nil
}

// Copy returns a deep copy of the user operation
func (uo *UserOperation) Copy() *UserOperation {
	cp := &UserOperation{
		Sender:               uo.Sender,
		Nonce:                copyBig(uo.Nonce),
		InitCode:             common.CopyBytes(uo.InitCode),
		CallData:             common.CopyBytes(uo.CallData),
		CallGasLimit:         copyBig(uo.CallGasLimit),
		VerificationGasLimit: copyBig(uo.VerificationGasLimit),
		PreVerificationGas:   copyBig(uo.PreVerificationGas),
		MaxFeePerGas:         copyBig(uo.MaxFeePerGas),
		MaxPriorityFeePerGas: copyBig(uo.MaxPriorityFeePerGas),
		PaymasterAndData:     common.CopyBytes(uo.PaymasterAndData),
		Signature:            common.CopyBytes(uo.Signature),
	}
	return cp
}

func copyBig(v *hexutil.Big) *hexutil.Big {
	if v == nil {
		return nil
	}
	return (*hexutil.Big)(new(big.Int).Set((*big.Int)(v)))
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return (*big.Int)(v)
}

// GetUserOpHash computes the user operation hash for ERC-4337 v0.6.
// The signature is not part of the hash.
func (uo *UserOperation) GetUserOpHash(entryPoint common.Address, chainId *big.Int) (common.Hash, error) {
	if chainId == nil {
		return common.Hash{}, fmt.Errorf("chain id is required")
	}

	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	bytes32Type, _ := abi.NewType("bytes32", "", nil)

	// First level encoding: dynamic fields are replaced by their hashes
	userOpArgs := abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // hashedInitCode
		{Type: bytes32Type}, // hashedCallData
		{Type: uint256Type}, // callGasLimit
		{Type: uint256Type}, // verificationGasLimit
		{Type: uint256Type}, // preVerificationGas
		{Type: uint256Type}, // maxFeePerGas
		{Type: uint256Type}, // maxPriorityFeePerGas
		{Type: bytes32Type}, // hashedPaymasterAndData
	}

	userOpEncoded, err := userOpArgs.Pack(
		uo.Sender,
		bigOrZero(uo.Nonce),
		crypto.Keccak256Hash(uo.InitCode),
		crypto.Keccak256Hash(uo.CallData),
		bigOrZero(uo.CallGasLimit),
		bigOrZero(uo.VerificationGasLimit),
		bigOrZero(uo.PreVerificationGas),
		bigOrZero(uo.MaxFeePerGas),
		bigOrZero(uo.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(uo.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode user operation: %v", err)
	}

	finalArgs := abi.Arguments{
		{Type: bytes32Type}, // userOpHash
		{Type: addressType}, // entryPoint
		{Type: uint256Type}, // chainId
	}

	finalEncoded, err := finalArgs.Pack(
		crypto.Keccak256Hash(userOpEncoded),
		entryPoint,
		chainId,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode final hash: %v", err)
	}

	return crypto.Keccak256Hash(finalEncoded), nil
}
