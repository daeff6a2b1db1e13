package handler

import (
	"context"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethaccount/userop/src/domain"
	"github.com/ethaccount/userop/src/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// UserOperationAPI is the service behind the user operation endpoints
type UserOperationAPI interface {
	Prepare(ctx context.Context, input service.PrepareInput) (*service.PrepareResult, error)
	Send(ctx context.Context, userOp *erc4337.UserOperation) (*domain.UserOperationRecord, error)
	GetStatus(ctx context.Context, userOpHash common.Hash) (*domain.UserOperationRecord, error)
}

type UserOperationHandler struct {
	userOps UserOperationAPI
}

func NewUserOperationHandler(userOps UserOperationAPI) *UserOperationHandler {
	return &UserOperationHandler{
		userOps: userOps,
	}
}

func (h *UserOperationHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "userop").Logger()
	return &l
}

// PrepareUserOperationRequest is the payload of POST /userops/prepare
type PrepareUserOperationRequest struct {
	// Owner selects a counterfactual account; the server's default account is used when empty
	Owner         string                        `json:"owner" binding:"omitempty,eth_addr"`
	// Salt of the owner's account, zero when empty
	Salt          *decimal.Decimal              `json:"salt" binding:"omitempty,numeric"`
	UserOperation *erc4337.PartialUserOperation `json:"userOperation" binding:"required"`
}

// SendUserOperationRequest is the payload of POST /userops/send
type SendUserOperationRequest struct {
	UserOperation *erc4337.UserOperation `json:"userOperation" binding:"required"`
}

type userOpHashURI struct {
	Hash string `uri:"hash" binding:"required,hexadecimal,len=66"`
}

// PrepareUserOperation godoc
// @Summary Prepare a user operation
// @Description Fills in every field the caller left out of a user operation
// @Tags userops
// @Accept json
// @Produce json
// @Param request body PrepareUserOperationRequest true "partial user operation"
// @Success 200 {object} StandardResponse{data=service.PrepareResult}
// @Failure 400 {object} StandardResponse
// @Router /userops/prepare [post]
func (h *UserOperationHandler) PrepareUserOperation(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "PrepareUserOperation").Logger()

	var req PrepareUserOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	input := service.PrepareInput{UserOperation: req.UserOperation}

	if req.Owner != "" {
		owner := common.HexToAddress(req.Owner)
		input.Owner = &owner
	}

	if req.Salt != nil {
		if !req.Salt.IsInteger() || req.Salt.IsNegative() {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeParameterInvalid,
				errors.New("salt must be a non-negative integer"),
				domain.WithMsg("salt must be a non-negative integer"),
				domain.WithDetail(map[string]interface{}{"field": "salt"}),
			))
			return
		}
		input.Salt = new(big.Int).Set(req.Salt.BigInt())
	}

	result, err := h.userOps.Prepare(c.Request.Context(), input)
	if err != nil {
		logger.Error().Err(err).Msg("failed to prepare user operation")
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, result)
}

// SendUserOperation godoc
// @Summary Send a signed user operation
// @Description Submits a complete, signed user operation to the bundler
// @Tags userops
// @Accept json
// @Produce json
// @Param request body SendUserOperationRequest true "signed user operation"
// @Success 201 {object} StandardResponse{data=domain.UserOperationRecord}
// @Failure 400 {object} StandardResponse
// @Failure 502 {object} StandardResponse
// @Router /userops/send [post]
func (h *UserOperationHandler) SendUserOperation(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "SendUserOperation").Logger()

	var req SendUserOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	record, err := h.userOps.Send(c.Request.Context(), req.UserOperation)
	if err != nil {
		logger.Error().Err(err).Msg("failed to send user operation")
		respondWithError(c, err)
		return
	}

	logger.Info().
		Str("user_op_hash", record.UserOpHash).
		Str("sender", record.Sender).
		Msg("user operation submitted")

	respondWithSuccessAndStatus(c, http.StatusCreated, record, "User operation submitted")
}

// GetUserOperation godoc
// @Summary Get user operation status
// @Tags userops
// @Produce json
// @Param hash path string true "user operation hash"
// @Success 200 {object} StandardResponse{data=domain.UserOperationRecord}
// @Failure 404 {object} StandardResponse
// @Router /userops/{hash} [get]
func (h *UserOperationHandler) GetUserOperation(c *gin.Context) {
	var uri userOpHashURI
	if err := c.ShouldBindUri(&uri); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid user operation hash")))
		return
	}

	record, err := h.userOps.GetStatus(c.Request.Context(), common.HexToHash(uri.Hash))
	if err != nil {
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, record)
}
