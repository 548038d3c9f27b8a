package credits

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestInitiatePurchaseComputesMinorUnits(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store, WithGateway(Gateway{KeyID: "rzp_test_key"}))
	userID := mustUserID(test, "buyer")

	order, err := service.InitiatePurchase(context.Background(), userID, 10, nil)
	if err != nil {
		test.Fatalf("initiate: %v", err)
	}
	if order.AmountMinor != 10*50*100 {
		test.Fatalf("expected amount 50000, got %d", order.AmountMinor)
	}
	if order.Currency != "INR" {
		test.Fatalf("expected INR, got %s", order.Currency)
	}
	if !strings.HasPrefix(order.OrderID, "order_") {
		test.Fatalf("expected order_ prefix, got %s", order.OrderID)
	}
	if order.Status != OrderStatusInitiated {
		test.Fatalf("expected initiated, got %s", order.Status)
	}
	if order.GatewayKey != "rzp_test_key" {
		test.Fatalf("expected gateway key to round-trip, got %s", order.GatewayKey)
	}
}

func TestInitiatePurchaseLeavesBalanceUntouched(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "pending-buyer")

	before, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if _, err := service.InitiatePurchase(context.Background(), userID, 25, nil); err != nil {
		test.Fatalf("initiate: %v", err)
	}
	after, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if before.Credits != after.Credits {
		test.Fatalf("initiate changed balance: %d -> %d", before.Credits, after.Credits)
	}
}

func TestInitiatePurchaseRejectsNonPositiveCredits(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "invalid-buyer")

	for _, credits := range []int64{0, -5} {
		if _, err := service.InitiatePurchase(context.Background(), userID, credits, nil); !errors.Is(err, ErrInvalidCreditAmount) {
			test.Fatalf("credits=%d: expected ErrInvalidCreditAmount, got %v", credits, err)
		}
	}
}

func TestInitiatePurchasePackageIsAuthoritative(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "tier-buyer")
	packageID, err := NewPackageID("pro")
	if err != nil {
		test.Fatalf("package id: %v", err)
	}

	order, err := service.InitiatePurchase(context.Background(), userID, 5, &packageID)
	if err != nil {
		test.Fatalf("initiate: %v", err)
	}
	if order.Credits != 50 {
		test.Fatalf("expected pro tier credits 50, got %d", order.Credits)
	}
	if order.PackageID != "pro" {
		test.Fatalf("expected package reference, got %q", order.PackageID)
	}

	unknown, err := NewPackageID("platinum")
	if err != nil {
		test.Fatalf("package id: %v", err)
	}
	if _, err := service.InitiatePurchase(context.Background(), userID, 5, &unknown); !errors.Is(err, ErrUnknownPackage) {
		test.Fatalf("expected ErrUnknownPackage, got %v", err)
	}
}

func TestSequentialOrdersGetDistinctIDs(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "repeat-buyer")

	first, err := service.InitiatePurchase(context.Background(), userID, 10, nil)
	if err != nil {
		test.Fatalf("first initiate: %v", err)
	}
	second, err := service.InitiatePurchase(context.Background(), userID, 10, nil)
	if err != nil {
		test.Fatalf("second initiate: %v", err)
	}
	if first.OrderID == second.OrderID {
		test.Fatalf("expected distinct order ids, both %s", first.OrderID)
	}

	for _, orderID := range []string{first.OrderID, second.OrderID} {
		if _, err := service.CompleteOrder(context.Background(), mustOrderID(test, orderID), GatewayProof{}); err != nil {
			test.Fatalf("complete %s: %v", orderID, err)
		}
	}
	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Credits != 20 {
		test.Fatalf("expected 20 credits after both completions, got %d", balance.Credits)
	}
}

func TestCompleteOrderCreditsExactlyOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "double-buyer")

	order, err := service.InitiatePurchase(context.Background(), userID, 10, nil)
	if err != nil {
		test.Fatalf("initiate: %v", err)
	}
	orderID := mustOrderID(test, order.OrderID)

	purchase, err := service.CompleteOrder(context.Background(), orderID, GatewayProof{})
	if err != nil {
		test.Fatalf("complete: %v", err)
	}
	if purchase.DeltaCredits != 10 {
		test.Fatalf("expected +10 delta, got %d", purchase.DeltaCredits)
	}

	if _, err := service.CompleteOrder(context.Background(), orderID, GatewayProof{}); !errors.Is(err, ErrOrderClosed) {
		test.Fatalf("expected ErrOrderClosed on second completion, got %v", err)
	}
	if count := store.countByKind(TransactionPurchase); count != 1 {
		test.Fatalf("expected exactly 1 purchase transaction, got %d", count)
	}
	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Credits != 10 {
		test.Fatalf("expected single credit of 10, got %d", balance.Credits)
	}
}

func TestFailOrderIsTerminalAndFree(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "failed-buyer")

	order, err := service.InitiatePurchase(context.Background(), userID, 10, nil)
	if err != nil {
		test.Fatalf("initiate: %v", err)
	}
	orderID := mustOrderID(test, order.OrderID)

	if err := service.FailOrder(context.Background(), orderID); err != nil {
		test.Fatalf("fail: %v", err)
	}
	if _, err := service.CompleteOrder(context.Background(), orderID, GatewayProof{}); !errors.Is(err, ErrOrderClosed) {
		test.Fatalf("expected ErrOrderClosed after failure, got %v", err)
	}
	if count := store.countByKind(TransactionPurchase); count != 0 {
		test.Fatalf("expected no purchase transaction for failed order, got %d", count)
	}
}

func TestCompleteOrderUnknownOrder(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)

	if _, err := service.CompleteOrder(context.Background(), mustOrderID(test, "order_missing"), GatewayProof{}); !errors.Is(err, ErrUnknownOrder) {
		test.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestCompleteOrderVerifiesGatewaySignature(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store, WithGateway(Gateway{KeyID: "rzp_test_key", Secret: "gateway-secret"}))
	userID := mustUserID(test, "verified-buyer")

	order, err := service.InitiatePurchase(context.Background(), userID, 10, nil)
	if err != nil {
		test.Fatalf("initiate: %v", err)
	}
	orderID := mustOrderID(test, order.OrderID)

	forged := GatewayProof{PaymentID: "pay_1", Signature: "forged"}
	if _, err := service.CompleteOrder(context.Background(), orderID, forged); !errors.Is(err, ErrInvalidGatewayProof) {
		test.Fatalf("expected ErrInvalidGatewayProof, got %v", err)
	}

	mac := hmac.New(sha256.New, []byte("gateway-secret"))
	mac.Write([]byte(order.OrderID + "|pay_1"))
	signed := GatewayProof{PaymentID: "pay_1", Signature: hex.EncodeToString(mac.Sum(nil))}
	if _, err := service.CompleteOrder(context.Background(), orderID, signed); err != nil {
		test.Fatalf("complete with valid proof: %v", err)
	}
}

func TestCompleteOrderRecordsPaymentID(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "metadata-buyer")

	order, err := service.InitiatePurchase(context.Background(), userID, 10, nil)
	if err != nil {
		test.Fatalf("initiate: %v", err)
	}
	purchase, err := service.CompleteOrder(context.Background(), mustOrderID(test, order.OrderID), GatewayProof{PaymentID: "pay_42"})
	if err != nil {
		test.Fatalf("complete: %v", err)
	}
	var recorded map[string]string
	if err := json.Unmarshal([]byte(purchase.Metadata), &recorded); err != nil {
		test.Fatalf("metadata is not JSON: %q: %v", purchase.Metadata, err)
	}
	if recorded["payment_id"] != "pay_42" {
		test.Fatalf("expected payment id in metadata, got %q", purchase.Metadata)
	}
}

func TestCompleteOrderWithoutPaymentIDLeavesMetadataEmpty(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "bare-buyer")

	order, err := service.InitiatePurchase(context.Background(), userID, 5, nil)
	if err != nil {
		test.Fatalf("initiate: %v", err)
	}
	purchase, err := service.CompleteOrder(context.Background(), mustOrderID(test, order.OrderID), GatewayProof{})
	if err != nil {
		test.Fatalf("complete: %v", err)
	}
	if purchase.Metadata != "" {
		test.Fatalf("expected empty metadata without a payment id, got %q", purchase.Metadata)
	}
}

func TestDefaultCatalogHasFourTiers(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)

	packages := service.Packages()
	if len(packages) != 4 {
		test.Fatalf("expected 4 packages, got %d", len(packages))
	}
	for _, entry := range packages {
		if entry.AmountMinor != entry.Credits*DefaultPricePerCredit*100 {
			test.Fatalf("package %s price %d diverges from uniform per-credit pricing", entry.PackageID, entry.AmountMinor)
		}
	}
}
