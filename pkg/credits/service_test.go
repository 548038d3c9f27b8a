package credits

import (
	"context"
	"errors"
	"testing"
)

func TestBalanceProvisionsFreshAccountAtZero(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "fresh-user")

	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Credits != 0 || balance.TotalPurchased != 0 || balance.CreditsUsed != 0 {
		test.Fatalf("expected zeroed balance, got %+v", balance)
	}
	if balance.PricePerCredit != DefaultPricePerCredit {
		test.Fatalf("expected price %d, got %d", DefaultPricePerCredit, balance.PricePerCredit)
	}
	if balance.Currency != DefaultCurrency {
		test.Fatalf("expected currency %s, got %s", DefaultCurrency, balance.Currency)
	}
}

func TestBalanceEqualsSumOfDeltas(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "reconcile-user")
	applicationID := mustApplicationID(test, "app-reconcile")

	mustGrantViaOrder(test, service, userID, 20)
	mustSpend(test, service, userID, applicationID, 7)

	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	accountID, err := store.FindAccountID(context.Background(), userID)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	sum, err := store.SumDeltas(context.Background(), accountID)
	if err != nil {
		test.Fatalf("sum: %v", err)
	}
	if balance.Credits != sum {
		test.Fatalf("balance %d diverged from transaction sum %d", balance.Credits, sum)
	}
	if balance.Credits != 13 {
		test.Fatalf("expected 13 credits, got %d", balance.Credits)
	}
	if balance.TotalPurchased != 20 {
		test.Fatalf("expected 20 purchased, got %d", balance.TotalPurchased)
	}
	if balance.CreditsUsed != 7 {
		test.Fatalf("expected 7 used, got %d", balance.CreditsUsed)
	}
}

func TestSpendInsufficientFunds(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "broke-user")
	applicationID := mustApplicationID(test, "app-broke")

	_, err := service.SpendOnApplication(context.Background(), userID, applicationID, mustCreditAmount(test, 5))
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if store.countByKind(TransactionUsage) != 0 {
		test.Fatalf("expected no usage transaction after refused spend")
	}
}

func TestSpendLocksAccountBeforeBalanceRead(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "locked-user")
	applicationID := mustApplicationID(test, "app-locked")

	mustGrantViaOrder(test, service, userID, 10)
	mustSpend(test, service, userID, applicationID, 4)

	accountID, err := store.FindAccountID(context.Background(), userID)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	locked := false
	for _, lockedID := range store.lockedAccounts {
		if lockedID == accountID {
			locked = true
		}
	}
	if !locked {
		test.Fatalf("expected the spend to lock account %s, locked: %v", accountID, store.lockedAccounts)
	}
}

func TestHistoryEmptyForFreshAccount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "quiet-user")

	history, err := service.History(context.Background(), userID, TransactionFilter{})
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		test.Fatalf("expected empty history, got %d entries", len(history))
	}
	refunds, err := service.Refunds(context.Background(), userID)
	if err != nil {
		test.Fatalf("refunds: %v", err)
	}
	if len(refunds) != 0 {
		test.Fatalf("expected empty refunds, got %d entries", len(refunds))
	}
}

func TestHistoryFiltersByKind(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service, _ := mustNewService(test, store)
	userID := mustUserID(test, "history-user")
	applicationID := mustApplicationID(test, "app-history")

	mustGrantViaOrder(test, service, userID, 10)
	mustSpend(test, service, userID, applicationID, 4)

	purchases, err := service.History(context.Background(), userID, TransactionFilter{Kind: TransactionPurchase})
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(purchases) != 1 {
		test.Fatalf("expected 1 purchase, got %d", len(purchases))
	}
	if purchases[0].Kind != TransactionPurchase {
		test.Fatalf("expected purchase kind, got %s", purchases[0].Kind)
	}
}

func TestNewServiceRejectsNilDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}

func TestOperationLoggerReceivesOutcomes(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	recorder := &recordingLogger{}
	service, _ := mustNewService(test, store, WithOperationLogger(recorder))
	userID := mustUserID(test, "logged-user")
	applicationID := mustApplicationID(test, "app-logged")

	if _, err := service.SpendOnApplication(context.Background(), userID, applicationID, mustCreditAmount(test, 3)); err == nil {
		test.Fatalf("expected refused spend")
	}
	if len(recorder.entries) != 1 {
		test.Fatalf("expected 1 log entry, got %d", len(recorder.entries))
	}
	if recorder.entries[0].Status != operationStatusError {
		test.Fatalf("expected error status, got %s", recorder.entries[0].Status)
	}
}

type recordingLogger struct {
	entries []OperationLog
}

func (logger *recordingLogger) LogOperation(ctx context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}
