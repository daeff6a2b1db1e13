package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethaccount/userop/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

type UserOperationRepository struct {
	db *gorm.DB
}

func NewUserOperationRepository(db *gorm.DB) *UserOperationRepository {
	return &UserOperationRepository{db: db}
}

// Create stores a user operation that was accepted by the bundler
func (r *UserOperationRepository) Create(ctx context.Context, userOpHash common.Hash, chainId int64, userOperation *erc4337.UserOperation, entryPoint common.Address) (*domain.UserOperationRecord, error) {
	userOpJSON, err := json.Marshal(userOperation)
	if err != nil {
		return nil, err
	}

	record := &domain.UserOperationRecord{
		UserOpHash:        userOpHash.Hex(),
		Sender:            userOperation.Sender.Hex(),
		ChainID:           chainId,
		EntryPointAddress: entryPoint.Hex(),
		UserOperation:     userOpJSON,
		Status:            domain.UserOperationStatusSubmitted,
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}

	return record, nil
}

// FindByHash retrieves a record by its user operation hash
func (r *UserOperationRepository) FindByHash(ctx context.Context, userOpHash common.Hash) (*domain.UserOperationRecord, error) {
	var record domain.UserOperationRecord
	err := r.db.WithContext(ctx).Where("user_op_hash = ?", userOpHash.Hex()).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewError(
			domain.ErrorCodeResourceNotFound,
			fmt.Errorf("user operation %s not found", userOpHash.Hex()),
			domain.WithMsg("User operation not found"),
		)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateStatus sets the status of a record
// txHash and errMsg are only written when non-nil
func (r *UserOperationRepository) UpdateStatus(ctx context.Context, userOpHash common.Hash, status domain.UserOperationStatus, txHash *common.Hash, errMsg *string) error {
	updates := map[string]interface{}{
		"status": status,
	}

	if txHash != nil {
		updates["transaction_hash"] = txHash.Hex()
	}
	if status == domain.UserOperationStatusFailed && errMsg != nil {
		updates["err_msg"] = *errMsg
	}

	return r.db.WithContext(ctx).
		Model(&domain.UserOperationRecord{}).
		Where("user_op_hash = ?", userOpHash.Hex()).
		Updates(updates).Error
}

// FindPending retrieves up to limit records still waiting for a receipt, oldest first
func (r *UserOperationRepository) FindPending(ctx context.Context, limit int) ([]*domain.UserOperationRecord, error) {
	var records []*domain.UserOperationRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.UserOperationStatusSubmitted).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
