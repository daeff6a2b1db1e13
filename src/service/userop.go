package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethaccount/userop/src/account"
	"github.com/ethaccount/userop/src/domain"
	"github.com/ethaccount/userop/src/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type userOperationStore interface {
	Create(ctx context.Context, userOpHash common.Hash, chainId int64, userOperation *erc4337.UserOperation, entryPoint common.Address) (*domain.UserOperationRecord, error)
	FindByHash(ctx context.Context, userOpHash common.Hash) (*domain.UserOperationRecord, error)
	UpdateStatus(ctx context.Context, userOpHash common.Hash, status domain.UserOperationStatus, txHash *common.Hash, errMsg *string) error
}

type userOperationCache interface {
	SetPrepared(ctx context.Context, userOpHash common.Hash, chainId int64, entryPoint common.Address, userOp *erc4337.UserOperation) error
	SetStatus(ctx context.Context, userOpHash common.Hash, status repository.CacheUserOpStatus, message *string) error
}

// AccountBuilder creates the account owned by owner with the given salt
type AccountBuilder func(ctx context.Context, owner common.Address, salt *big.Int) (account.SmartAccount, error)

// NewAccountBuilder returns an AccountBuilder that derives accounts from template
func NewAccountBuilder(client account.NetworkClient, template account.Config) AccountBuilder {
	return func(ctx context.Context, owner common.Address, salt *big.Int) (account.SmartAccount, error) {
		return account.New(ctx, client, ownerAccountConfig(template, owner, salt))
	}
}

// ownerAccountConfig keeps the kind, factory and entry point of template. The
// salt is the request's, or zero; the default account's salt is never reused.
func ownerAccountConfig(template account.Config, owner common.Address, salt *big.Int) account.Config {
	cfg := template
	cfg.Owner = owner
	cfg.Address = nil
	cfg.Salt = new(big.Int)
	if salt != nil {
		cfg.Salt.Set(salt)
	}
	return cfg
}

type PrepareInput struct {
	// Owner selects a counterfactual account; nil uses the default account
	Owner         *common.Address
	// Salt of the owner's account, zero when nil
	Salt          *big.Int
	UserOperation *erc4337.PartialUserOperation
}

type PrepareResult struct {
	UserOperation *erc4337.UserOperation `json:"userOperation"`
	UserOpHash    common.Hash            `json:"userOpHash"`
	ChainID       int64                  `json:"chainId"`
	EntryPoint    common.Address         `json:"entryPoint"`
}

// UserOperationService prepares user operations, hands signed ones to the
// bundler and tracks them until they are included
type UserOperationService struct {
	preparer   *UserOperationPreparer
	bundler    erc4337.Bundler
	repo       userOperationStore
	cache      userOperationCache
	newAccount AccountBuilder
	entryPoint common.Address
}

func NewUserOperationService(
	preparer *UserOperationPreparer,
	bundler erc4337.Bundler,
	repo userOperationStore,
	cache userOperationCache,
	newAccount AccountBuilder,
	entryPoint common.Address,
) *UserOperationService {
	return &UserOperationService{
		preparer:   preparer,
		bundler:    bundler,
		repo:       repo,
		cache:      cache,
		newAccount: newAccount,
		entryPoint: entryPoint,
	}
}

// logger wraps the execution context with component info
func (s *UserOperationService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "userop").Logger()
	return &l
}

func (s *UserOperationService) chainId(ctx context.Context) (*big.Int, error) {
	chainId, err := s.bundler.ChainId(ctx)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeRemoteProcessError, fmt.Errorf("failed to get chain id: %w", err))
	}
	return chainId, nil
}

// Prepare fills in a partial user operation and caches the result under its hash
func (s *UserOperationService) Prepare(ctx context.Context, input PrepareInput) (*PrepareResult, error) {
	var acct account.SmartAccount
	if input.Owner != nil {
		if s.newAccount == nil {
			return nil, domain.NewError(domain.ErrorCodeInternalProcess, errors.New("account builder not configured"))
		}
		a, err := s.newAccount(ctx, *input.Owner, input.Salt)
		if err != nil {
			return nil, domain.NewError(
				domain.ErrorCodeAccountNotFound,
				fmt.Errorf("failed to build account for owner %s: %w", input.Owner.Hex(), err),
				domain.WithMsg("Failed to resolve account for owner"),
			)
		}
		acct = a
	}

	entryPoint := s.entryPoint
	if acct != nil {
		entryPoint = acct.EntryPoint()
	}

	userOp, err := s.preparer.PrepareUserOperationRequest(ctx, input.UserOperation, acct)
	if err != nil {
		return nil, err
	}

	chainId, err := s.chainId(ctx)
	if err != nil {
		return nil, err
	}

	userOpHash, err := userOp.GetUserOpHash(entryPoint, chainId)
	if err != nil {
		return nil, fmt.Errorf("failed to compute user operation hash: %w", err)
	}

	if err := s.cache.SetPrepared(ctx, userOpHash, chainId.Int64(), entryPoint, userOp); err != nil {
		s.logger(ctx).Warn().Err(err).Str("user_op_hash", userOpHash.Hex()).Msg("failed to cache prepared user operation")
	}

	s.logger(ctx).Info().
		Str("user_op_hash", userOpHash.Hex()).
		Str("sender", userOp.Sender.Hex()).
		Msg("user operation prepared")

	return &PrepareResult{
		UserOperation: userOp,
		UserOpHash:    userOpHash,
		ChainID:       chainId.Int64(),
		EntryPoint:    entryPoint,
	}, nil
}

// Send submits a signed user operation to the bundler and records it
func (s *UserOperationService) Send(ctx context.Context, userOp *erc4337.UserOperation) (*domain.UserOperationRecord, error) {
	if userOp == nil || !userOp.IsComplete() {
		return nil, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("user operation is incomplete"),
			domain.WithMsg("All user operation fields are required"),
		)
	}

	chainId, err := s.chainId(ctx)
	if err != nil {
		return nil, err
	}

	userOpHash, err := s.bundler.SendUserOperation(ctx, userOp, s.entryPoint)
	if err != nil {
		return nil, domain.NewError(
			domain.ErrorCodeRemoteProcessError,
			fmt.Errorf("failed to send user operation: %w", err),
			domain.WithMsg("Bundler rejected the user operation"),
		)
	}

	if expected, err := userOp.GetUserOpHash(s.entryPoint, chainId); err == nil && expected != userOpHash {
		s.logger(ctx).Warn().
			Str("expected", expected.Hex()).
			Str("bundler", userOpHash.Hex()).
			Msg("bundler returned a different user operation hash")
	}

	record, err := s.repo.Create(ctx, userOpHash, chainId.Int64(), userOp, s.entryPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to save user operation: %w", err)
	}

	if err := s.cache.SetStatus(ctx, userOpHash, repository.CacheStatusSubmitted, nil); err != nil {
		s.logger(ctx).Warn().Err(err).Str("user_op_hash", userOpHash.Hex()).Msg("failed to cache user operation status")
	}

	s.logger(ctx).Info().Str("user_op_hash", userOpHash.Hex()).Msg("user operation submitted")

	return record, nil
}

// GetStatus returns the stored record, checking the bundler for a receipt
// while the operation is still pending
func (s *UserOperationService) GetStatus(ctx context.Context, userOpHash common.Hash) (*domain.UserOperationRecord, error) {
	record, err := s.repo.FindByHash(ctx, userOpHash)
	if err != nil {
		return nil, err
	}
	if record.IsFinal() {
		return record, nil
	}

	receipt, err := s.bundler.GetUserOperationReceipt(ctx, userOpHash)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeRemoteProcessError, fmt.Errorf("failed to get user operation receipt: %w", err))
	}
	if receipt == nil {
		return record, nil
	}

	status := domain.UserOperationStatusIncluded
	cacheStatus := repository.CacheStatusIncluded
	var errMsg *string
	if !receipt.Success {
		status = domain.UserOperationStatusFailed
		cacheStatus = repository.CacheStatusFailed
		msg := receipt.Reason
		if msg == "" {
			msg = "user operation reverted"
		}
		errMsg = &msg
	}

	txHash := receipt.TransactionHash()
	if err := s.repo.UpdateStatus(ctx, userOpHash, status, &txHash, errMsg); err != nil {
		return nil, fmt.Errorf("failed to update user operation status: %w", err)
	}

	if err := s.cache.SetStatus(ctx, userOpHash, cacheStatus, errMsg); err != nil {
		s.logger(ctx).Warn().Err(err).Str("user_op_hash", userOpHash.Hex()).Msg("failed to cache user operation status")
	}

	txHashHex := txHash.Hex()
	record.Status = status
	record.TransactionHash = &txHashHex
	record.ErrMsg = errMsg

	s.logger(ctx).Info().
		Str("user_op_hash", userOpHash.Hex()).
		Str("status", string(status)).
		Str("transaction_hash", txHashHex).
		Msg("user operation status updated")

	return record, nil
}
