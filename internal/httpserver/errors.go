package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/reelcrew/credits/pkg/credits"
	"go.uber.org/zap"
)

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// statusMapping pins each domain sentinel to its HTTP status and stable code.
var statusMapping = []struct {
	sentinel error
	status   int
	code     string
}{
	{credits.ErrUnknownOrder, http.StatusNotFound, "order_not_found"},
	{credits.ErrUnknownApplication, http.StatusNotFound, "application_not_found"},
	{credits.ErrUnknownProject, http.StatusNotFound, "project_not_found"},
	{credits.ErrUnknownUser, http.StatusNotFound, "user_not_found"},
	{credits.ErrUnknownPackage, http.StatusNotFound, "package_not_found"},
	{credits.ErrNotApplicationOwner, http.StatusForbidden, "forbidden"},
	{credits.ErrOrderClosed, http.StatusConflict, "order_closed"},
	{credits.ErrAlreadyRefunded, http.StatusConflict, "already_refunded"},
	{credits.ErrDuplicatePurchase, http.StatusConflict, "duplicate_purchase"},
	{credits.ErrInsufficientFunds, http.StatusBadRequest, "insufficient_credits"},
	{credits.ErrNotEligible, http.StatusBadRequest, "not_eligible"},
	{credits.ErrNegativeBalance, http.StatusBadRequest, "negative_balance"},
	{credits.ErrInvalidGatewayProof, http.StatusBadRequest, "invalid_signature"},
	{credits.ErrInvalidUserID, http.StatusBadRequest, "invalid_user_id"},
	{credits.ErrInvalidOrderID, http.StatusBadRequest, "invalid_order_id"},
	{credits.ErrInvalidApplicationID, http.StatusBadRequest, "invalid_application_id"},
	{credits.ErrInvalidProjectID, http.StatusBadRequest, "invalid_project_id"},
	{credits.ErrInvalidPackageID, http.StatusBadRequest, "invalid_package_id"},
	{credits.ErrInvalidCreditAmount, http.StatusBadRequest, "invalid_credit_amount"},
	{credits.ErrInvalidAdjustmentReason, http.StatusBadRequest, "invalid_reason"},
	{credits.ErrInvalidAdjustmentDelta, http.StatusBadRequest, "invalid_delta"},
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	for _, mapping := range statusMapping {
		if errors.Is(err, mapping.sentinel) {
			ctx.JSON(mapping.status, errorResponse(mapping.code, mapping.sentinel.Error()))
			return
		}
	}
	handler.logger.Error("credits request failed",
		zap.String("path", ctx.FullPath()),
		zap.Error(err),
	)
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "internal error"))
}
