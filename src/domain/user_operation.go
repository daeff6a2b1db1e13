package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethaccount/userop/erc4337"
	"github.com/google/uuid"
)

// UserOperationStatus is the lifecycle state of a submitted user operation
type UserOperationStatus string

const (
	UserOperationStatusSubmitted UserOperationStatus = "submitted"
	UserOperationStatusIncluded  UserOperationStatus = "included"
	UserOperationStatusFailed    UserOperationStatus = "failed"
)

// UserOperationRecord is a user operation that was handed to the bundler
type UserOperationRecord struct {
	ID                uuid.UUID           `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserOpHash        string              `gorm:"type:varchar(66);not null;uniqueIndex" json:"userOpHash"`
	Sender            string              `gorm:"type:varchar(42);not null" json:"sender"`
	ChainID           int64               `gorm:"not null" json:"chainId"`
	EntryPointAddress string              `gorm:"type:varchar(42);not null" json:"entryPoint"`
	UserOperation     json.RawMessage     `gorm:"type:jsonb;not null" json:"userOperation"`
	Status            UserOperationStatus `gorm:"type:varchar(20);not null" json:"status"`
	TransactionHash   *string             `gorm:"type:varchar(66)" json:"transactionHash,omitempty"`
	ErrMsg            *string             `gorm:"type:text" json:"errMsg,omitempty"`
	CreatedAt         time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt         time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

func (UserOperationRecord) TableName() string {
	return "user_operations"
}

// GetUserOperation returns the stored user operation as a typed struct
func (r *UserOperationRecord) GetUserOperation() (*erc4337.UserOperation, error) {
	var userOp erc4337.UserOperation
	if err := json.Unmarshal(r.UserOperation, &userOp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user operation: %w", err)
	}
	return &userOp, nil
}

// IsFinal reports whether the record no longer needs receipt polling
func (r *UserOperationRecord) IsFinal() bool {
	return r.Status == UserOperationStatusIncluded || r.Status == UserOperationStatusFailed
}
