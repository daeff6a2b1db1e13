package repository

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethaccount/userop/src/domain"
	"github.com/ethaccount/userop/src/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

func testUserOperation() *erc4337.UserOperation {
	return &erc4337.UserOperation{
		Sender:               common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                (*hexutil.Big)(big.NewInt(1)),
		InitCode:             hexutil.Bytes{},
		CallData:             hexutil.Bytes([]byte{0xab, 0xcd, 0xef}),
		CallGasLimit:         (*hexutil.Big)(big.NewInt(100000)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(50000)),
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(21000)),
		MaxFeePerGas:         (*hexutil.Big)(big.NewInt(2000000000)),
		MaxPriorityFeePerGas: (*hexutil.Big)(big.NewInt(1000000000)),
		PaymasterAndData:     hexutil.Bytes{},
		Signature:            hexutil.Bytes([]byte{0x12, 0x34, 0x56, 0x78}),
	}
}

func TestUserOperationRepository_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserOperationRepository(db)
	ctx := context.Background()

	userOp := testUserOperation()
	userOpHash := common.HexToHash("0x01")

	record, err := repo.Create(ctx, userOpHash, 11155111, userOp, erc4337.EntryPointV06)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if record.ID == uuid.Nil {
		t.Error("record ID should be generated")
	}
	if record.Status != domain.UserOperationStatusSubmitted {
		t.Errorf("Expected status %s, got %s", domain.UserOperationStatusSubmitted, record.Status)
	}
	if record.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	found, err := repo.FindByHash(ctx, userOpHash)
	if err != nil {
		t.Fatalf("FindByHash failed: %v", err)
	}
	if found.Sender != userOp.Sender.Hex() {
		t.Errorf("Expected sender %s, got %s", userOp.Sender.Hex(), found.Sender)
	}

	stored, err := found.GetUserOperation()
	if err != nil {
		t.Fatalf("GetUserOperation failed: %v", err)
	}
	if stored.Nonce.ToInt().Cmp(userOp.Nonce.ToInt()) != 0 {
		t.Errorf("Expected nonce %s, got %s", userOp.Nonce.String(), stored.Nonce.String())
	}

	// Duplicate hashes are rejected
	if _, err := repo.Create(ctx, userOpHash, 11155111, userOp, erc4337.EntryPointV06); err == nil {
		t.Error("Expected error when creating a duplicate user operation")
	}
}

func TestUserOperationRepository_UpdateStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserOperationRepository(db)
	ctx := context.Background()
	userOpHash := common.HexToHash("0x02")

	if _, err := repo.Create(ctx, userOpHash, 1, testUserOperation(), erc4337.EntryPointV06); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	txHash := common.HexToHash("0xbeef")
	errMsg := "AA23 reverted"
	if err := repo.UpdateStatus(ctx, userOpHash, domain.UserOperationStatusFailed, &txHash, &errMsg); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	found, err := repo.FindByHash(ctx, userOpHash)
	if err != nil {
		t.Fatalf("FindByHash failed: %v", err)
	}
	if found.Status != domain.UserOperationStatusFailed {
		t.Errorf("Expected status failed, got %s", found.Status)
	}
	if found.TransactionHash == nil || *found.TransactionHash != txHash.Hex() {
		t.Errorf("Expected transaction hash %s, got %v", txHash.Hex(), found.TransactionHash)
	}
	if found.ErrMsg == nil || *found.ErrMsg != errMsg {
		t.Errorf("Expected err msg %q, got %v", errMsg, found.ErrMsg)
	}
	if !found.IsFinal() {
		t.Error("failed record should be final")
	}
}

func TestUserOperationRepository_FindByHash_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserOperationRepository(db)

	_, err := repo.FindByHash(context.Background(), common.HexToHash("0xdead"))
	if !domain.HasErrorCode(err, domain.ErrorCodeResourceNotFound) {
		t.Errorf("Expected RESOURCE_NOT_FOUND, got %v", err)
	}
}
