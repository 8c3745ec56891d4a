package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/bivex/receipt-guard/internal/application/command"
	"github.com/bivex/receipt-guard/internal/application/dto"
	"github.com/bivex/receipt-guard/internal/application/query"
	domainErrors "github.com/bivex/receipt-guard/internal/domain/errors"
	"github.com/bivex/receipt-guard/internal/interfaces/http/response"
)

// IAPHandler handles receipt validation and restore endpoints
type IAPHandler struct {
	validateCmd  *command.ValidateReceiptCommand
	restoreQuery *query.RestorePurchasesQuery
}

// NewIAPHandler creates a new IAP handler
func NewIAPHandler(validateCmd *command.ValidateReceiptCommand, restoreQuery *query.RestorePurchasesQuery) *IAPHandler {
	return &IAPHandler{
		validateCmd:  validateCmd,
		restoreQuery: restoreQuery,
	}
}

// ValidateReceipt handles receipt validation
// @Summary Validate an IAP receipt
// @Tags iap
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.ValidateReceiptRequest true "Receipt validation request"
// @Success 200 {object} response.SuccessResponse{data=dto.ValidateReceiptResponse}
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Router /iap/validate [post]
func (h *IAPHandler) ValidateReceipt(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	var req dto.ValidateReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	resp, err := h.validateCmd.Execute(c.Request.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, domainErrors.ErrReplayDetected):
			response.Forbidden(c, "RECEIPT_ALREADY_USED", "This receipt has already been used by another user")
		case errors.Is(err, domainErrors.ErrUnsupportedPlatform):
			response.BadRequest(c, "Platform must be either \"ios\" or \"android\"")
		case errors.Is(err, domainErrors.ErrValidatorNotConfigured):
			response.InternalError(c, "Receipt validation is not available")
		default:
			response.InternalError(c, "Failed to validate receipt. Please try again.")
		}
		return
	}

	response.OK(c, resp)
}

// RestorePurchases handles purchase restoration
// @Summary Restore the user's validated purchases
// @Tags iap
// @Produce json
// @Security Bearer
// @Success 200 {object} response.SuccessResponse{data=dto.RestorePurchasesResponse}
// @Failure 401 {object} response.ErrorResponse
// @Router /iap/purchases [get]
func (h *IAPHandler) RestorePurchases(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	resp, err := h.restoreQuery.Execute(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, "Failed to restore purchases. Please try again.")
		return
	}

	response.OK(c, resp)
}
