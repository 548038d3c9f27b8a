package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/reelcrew/credits/pkg/credits"
)

type initiatePurchaseRequest struct {
	Credits   int64  `json:"credits"`
	PackageID string `json:"package_id"`
}

type verifyPaymentRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

type adjustRequest struct {
	UserID string `json:"user_id"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

type transactionPayload struct {
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	Credits       int64           `json:"credits"`
	OrderID       string          `json:"order_id,omitempty"`
	ApplicationID string          `json:"application_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     int64           `json:"created_at"`
}

func mapTransactionPayload(transaction credits.Transaction) transactionPayload {
	return transactionPayload{
		TransactionID: transaction.TransactionID,
		Type:          transaction.Kind.String(),
		Credits:       transaction.DeltaCredits,
		OrderID:       transaction.OrderID,
		ApplicationID: transaction.ApplicationID,
		Reason:        transaction.Reason,
		Metadata:      json.RawMessage(transaction.Metadata),
		CreatedAt:     transaction.CreatedUnixUTC,
	}
}

func mapTransactionPayloads(transactions []credits.Transaction) []transactionPayload {
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, mapTransactionPayload(transaction))
	}
	return payloads
}

func balancePayload(view credits.BalanceView) gin.H {
	return gin.H{
		"credits_balance":         view.Credits,
		"total_credits_purchased": view.TotalPurchased,
		"credits_used":            view.CreditsUsed,
		"pricePerCredit":          view.PricePerCredit,
		"currency":                view.Currency,
	}
}

func (handler *httpHandler) callerUserID(ctx *gin.Context) (credits.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
		return credits.UserID{}, false
	}
	userID, err := credits.NewUserID(claims.UserID)
	if err != nil {
		handler.respondError(ctx, err)
		return credits.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	balance, err := handler.service.Balance(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balancePayload(balance))
}

func (handler *httpHandler) handlePackages(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"packages": handler.service.Packages()})
}

func (handler *httpHandler) handleInitiatePurchase(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	var request initiatePurchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	var packageID *credits.PackageID
	if request.PackageID != "" {
		parsed, err := credits.NewPackageID(request.PackageID)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		packageID = &parsed
	}
	order, err := handler.service.InitiatePurchase(ctx.Request.Context(), userID, request.Credits, packageID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"order_id": order.OrderID,
		"amount":   order.AmountMinor,
		"currency": order.Currency,
		"credits":  order.Credits,
		"key_id":   order.GatewayKey,
	})
}

func (handler *httpHandler) handleVerifyPayment(ctx *gin.Context) {
	if _, ok := handler.callerUserID(ctx); !ok {
		return
	}
	var request verifyPaymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	orderID, err := credits.NewOrderID(request.OrderID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	purchase, err := handler.service.CompleteOrder(ctx.Request.Context(), orderID, credits.GatewayProof{
		PaymentID: request.PaymentID,
		Signature: request.Signature,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"order_id":      orderID.String(),
		"credits_added": purchase.DeltaCredits,
		"status":        "completed",
	})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	filter, ok := handler.kindFilter(ctx)
	if !ok {
		return
	}
	transactions, err := handler.service.History(ctx.Request.Context(), userID, filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": mapTransactionPayloads(transactions)})
}

func (handler *httpHandler) handleRefunds(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	refunds, err := handler.service.Refunds(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": mapTransactionPayloads(refunds)})
}

func (handler *httpHandler) handleRefundEligibility(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	applicationID, err := credits.NewApplicationID(ctx.Param("applicationId"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	eligibility, err := handler.service.CheckRefundEligibility(ctx.Request.Context(), userID, applicationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"eligible":       eligibility.Eligible,
		"refund_credits": eligibility.RefundCredits,
		"refund_percent": eligibility.RefundPercent,
		"status":         eligibility.Status.String(),
	})
}

func (handler *httpHandler) handleIssueRefund(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	applicationID, err := credits.NewApplicationID(ctx.Param("applicationId"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	refund, err := handler.service.IssueRefund(ctx.Request.Context(), userID, applicationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"refund": mapTransactionPayload(refund)})
}

func (handler *httpHandler) handleAdminTransactions(ctx *gin.Context) {
	filter, ok := handler.kindFilter(ctx)
	if !ok {
		return
	}
	page := parsePositiveInt(ctx.Query("page"), 1)
	limit := parsePositiveInt(ctx.Query("limit"), 0)
	transactions, pagination, err := handler.service.AdminTransactions(ctx.Request.Context(), filter, page, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transactions": mapTransactionPayloads(transactions),
		"pagination": gin.H{
			"total": pagination.Total,
			"page":  pagination.Page,
			"limit": pagination.Limit,
		},
	})
}

func (handler *httpHandler) handleAdminUserSnapshot(ctx *gin.Context) {
	userID, err := credits.NewUserID(ctx.Param("userId"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	snapshot, err := handler.service.AdminUserSnapshot(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := balancePayload(snapshot.Balance)
	payload["user_id"] = snapshot.UserID.String()
	payload["recent_transactions"] = mapTransactionPayloads(snapshot.RecentTransactions)
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleAdminRefundProject(ctx *gin.Context) {
	projectID, err := credits.NewProjectID(ctx.Param("projectId"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	result, err := handler.service.RefundProject(ctx.Request.Context(), projectID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"refunds_processed":  result.RefundsProcessed,
		"total_applications": result.TotalApplications,
	})
}

func (handler *httpHandler) handleAdminAdjust(ctx *gin.Context) {
	var request adjustRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := credits.NewUserID(request.UserID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	reason, err := credits.NewAdjustmentReason(request.Reason)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	adjustment, err := handler.service.AdjustBalance(ctx.Request.Context(), userID, request.Delta, reason)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction": mapTransactionPayload(adjustment)})
}

// kindFilter reads the optional ?type= query parameter. An unknown kind is a
// 400, not an empty result set.
func (handler *httpHandler) kindFilter(ctx *gin.Context) (credits.TransactionFilter, bool) {
	raw := ctx.Query("type")
	if raw == "" {
		return credits.TransactionFilter{}, true
	}
	kind, err := credits.ParseTransactionKind(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_type", "unknown transaction type"))
		return credits.TransactionFilter{}, false
	}
	return credits.TransactionFilter{Kind: kind}, true
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
