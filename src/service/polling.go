package service

import (
	"context"
	"time"

	"github.com/ethaccount/userop/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type pendingUserOperationFinder interface {
	FindPending(ctx context.Context, limit int) ([]*domain.UserOperationRecord, error)
}

type statusUpdater interface {
	GetStatus(ctx context.Context, userOpHash common.Hash) (*domain.UserOperationRecord, error)
}

// ReceiptPollingService periodically checks submitted user operations for receipts
type ReceiptPollingService struct {
	finder          pendingUserOperationFinder
	updater         statusUpdater
	pollingInterval time.Duration
	batchSize       int
}

type PollingConfig struct {
	PollingInterval time.Duration
	BatchSize       int
}

func NewReceiptPollingService(finder pendingUserOperationFinder, updater statusUpdater, config PollingConfig) *ReceiptPollingService {
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReceiptPollingService{
		finder:          finder,
		updater:         updater,
		pollingInterval: config.PollingInterval,
		batchSize:       batchSize,
	}
}

// logger wraps the execution context with component info
func (s *ReceiptPollingService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "receipt-polling-service").Logger()
	return &l
}

// Start runs the polling loop until ctx is cancelled
func (s *ReceiptPollingService) Start(ctx context.Context) error {
	s.logger(ctx).Info().
		Dur("polling_interval", s.pollingInterval).
		Msg("starting receipt polling service")

	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger(ctx).Info().Msg("receipt polling service stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.poll(ctx); err != nil {
				s.logger(ctx).Error().Err(err).Msg("polling cycle failed")
			}
		}
	}
}

// poll performs a single polling cycle and returns how many operations reached a final state
func (s *ReceiptPollingService) poll(ctx context.Context) (int, error) {
	records, err := s.finder.FindPending(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	if len(records) == 0 {
		s.logger(ctx).Debug().Msg("no pending user operations")
		return 0, nil
	}

	finalized := 0
	for _, record := range records {
		updated, err := s.updater.GetStatus(ctx, common.HexToHash(record.UserOpHash))
		if err != nil {
			s.logger(ctx).Warn().
				Err(err).
				Str("user_op_hash", record.UserOpHash).
				Msg("failed to check user operation receipt")
			continue
		}
		if updated.IsFinal() {
			finalized++
		}
	}

	s.logger(ctx).Debug().
		Int("pending", len(records)).
		Int("finalized", finalized).
		Msg("polling cycle completed")

	return finalized, nil
}
