package credits

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// InitiatePurchase opens a payment order for a credit top-up. The ledger is
// untouched until the gateway confirms payment; any number of initiated
// orders may coexist per account. When packageID is supplied it is
// authoritative and the credit count is derived from the catalog entry.
func (service *Service) InitiatePurchase(ctx context.Context, userID UserID, credits int64, packageID *PackageID) (Order, error) {
	var order Order
	operationError := func() error {
		if packageID != nil {
			catalogEntry, err := service.findPackage(*packageID)
			if err != nil {
				return err
			}
			credits = catalogEntry.Credits
		}
		amount, err := NewCreditAmount(credits)
		if err != nil {
			return err
		}
		accountID, err := service.store.GetOrCreateAccountID(ctx, userID)
		if err != nil {
			return err
		}
		order = Order{
			OrderID:        orderIDPrefix + uuid.NewString(),
			AccountID:      accountID,
			Credits:        amount.Int64(),
			AmountMinor:    amount.Int64() * service.pricing.PricePerCredit * minorUnitsPerCurrency,
			Currency:       service.pricing.Currency,
			Status:         OrderStatusInitiated,
			GatewayKey:     service.gateway.KeyID,
			CreatedUnixUTC: service.nowFn(),
		}
		if packageID != nil {
			order.PackageID = packageID.String()
		}
		return service.store.CreateOrder(ctx, order)
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationInitiate,
		UserID:    userID,
		Delta:     credits,
		Error:     operationError,
	})
	if operationError != nil {
		return Order{}, operationError
	}
	return order, nil
}

// CompleteOrder settles an initiated order and credits the ledger exactly
// once. The status compare-and-swap plus the unique purchase-per-order
// constraint at the storage layer guarantee a second completion attempt can
// never double-credit.
func (service *Service) CompleteOrder(ctx context.Context, orderID OrderID, proof GatewayProof) (Transaction, error) {
	var purchase Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := service.verifyGatewayProof(orderID, proof); err != nil {
			return err
		}
		if order.Status.Terminal() {
			return ErrOrderClosed
		}
		if err := transactionStore.TransitionOrderStatus(ctx, orderID, OrderStatusInitiated, OrderStatusCompleted); err != nil {
			return err
		}
		purchase, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      order.AccountID,
			Kind:           TransactionPurchase,
			DeltaCredits:   order.Credits,
			OrderID:        orderID.String(),
			Metadata:       paymentMetadata(proof),
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationComplete,
		OrderID:   orderID,
		Delta:     purchase.DeltaCredits,
		Error:     operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return purchase, nil
}

// FailOrder marks an initiated order failed. Terminal, no ledger effect.
func (service *Service) FailOrder(ctx context.Context, orderID OrderID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return ErrOrderClosed
		}
		return transactionStore.TransitionOrderStatus(ctx, orderID, OrderStatusInitiated, OrderStatusFailed)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationFail,
		OrderID:   orderID,
		Error:     operationError,
	})
	return operationError
}

// paymentMetadata preserves the gateway correlation on the purchase
// transaction so completions can be reconciled against the gateway later.
func paymentMetadata(proof GatewayProof) string {
	if proof.PaymentID == "" {
		return ""
	}
	raw, err := json.Marshal(map[string]string{"payment_id": proof.PaymentID})
	if err != nil {
		return ""
	}
	return string(raw)
}

// verifyGatewayProof checks the gateway's HMAC over "orderID|paymentID".
// An unset secret disables verification.
func (service *Service) verifyGatewayProof(orderID OrderID, proof GatewayProof) error {
	if service.gateway.Secret == "" {
		return nil
	}
	if proof.PaymentID == "" || proof.Signature == "" {
		return ErrInvalidGatewayProof
	}
	mac := hmac.New(sha256.New, []byte(service.gateway.Secret))
	mac.Write([]byte(orderID.String() + "|" + proof.PaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(proof.Signature)) {
		return ErrInvalidGatewayProof
	}
	return nil
}
