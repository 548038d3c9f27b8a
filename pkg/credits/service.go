package credits

import (
	"context"
	"fmt"
)

// Service contains the domain logic over a Store.
type Service struct {
	store                Store
	nowFn                func() int64
	logger               OperationLogger
	pricing              Pricing
	gateway              Gateway
	refundPolicy         RefundPolicy
	catalog              []Package
	allowNegativeBalance bool
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store: store,
		nowFn: now,
		pricing: Pricing{
			PricePerCredit: DefaultPricePerCredit,
			Currency:       DefaultCurrency,
		},
		refundPolicy: RefundPolicy{
			PercentByStatus: map[ApplicationStatus]int64{
				ApplicationStatusWithdrawn: refundPercentWithdrawn,
				ApplicationStatusRejected:  refundPercentRejected,
				ApplicationStatusExpired:   refundPercentExpired,
			},
			WindowDays: defaultRefundWindowDays,
		},
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.catalog == nil {
		service.catalog = DefaultCatalog(service.pricing)
	}
	return service, nil
}

// Balance returns the per-account snapshot, provisioning a zero-balance
// account on first sight rather than erroring.
func (service *Service) Balance(ctx context.Context, userID UserID) (BalanceView, error) {
	accountID, err := service.store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		return BalanceView{}, err
	}
	return service.balanceForAccount(ctx, accountID)
}

func (service *Service) balanceForAccount(ctx context.Context, accountID string) (BalanceView, error) {
	balance, err := service.store.SumDeltas(ctx, accountID)
	if err != nil {
		return BalanceView{}, err
	}
	purchased, err := service.store.SumByKind(ctx, accountID, TransactionPurchase)
	if err != nil {
		return BalanceView{}, err
	}
	used, err := service.store.SumByKind(ctx, accountID, TransactionUsage)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{
		Credits:        balance,
		TotalPurchased: purchased,
		CreditsUsed:    -used,
		PricePerCredit: service.pricing.PricePerCredit,
		Currency:       service.pricing.Currency,
	}, nil
}

// History lists the user's own transactions, newest first.
func (service *Service) History(ctx context.Context, userID UserID, filter TransactionFilter) ([]Transaction, error) {
	accountID, err := service.store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, accountID, filter, defaultHistoryLimit)
}

// Refunds lists the user's refund transactions.
func (service *Service) Refunds(ctx context.Context, userID UserID) ([]Transaction, error) {
	return service.History(ctx, userID, TransactionFilter{Kind: TransactionRefund})
}

// SpendOnApplication debits credits against a project application. The usage
// transaction it writes is the spend record refunds are later evaluated from.
func (service *Service) SpendOnApplication(ctx context.Context, userID UserID, applicationID ApplicationID, amount CreditAmount) (Transaction, error) {
	var spent Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		accountID, err := transactionStore.GetOrCreateAccountID(ctx, userID)
		if err != nil {
			return err
		}
		if err := transactionStore.LockAccount(ctx, accountID); err != nil {
			return err
		}
		balance, err := transactionStore.SumDeltas(ctx, accountID)
		if err != nil {
			return err
		}
		if balance < amount.Int64() {
			return ErrInsufficientFunds
		}
		spent, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      accountID,
			Kind:           TransactionUsage,
			DeltaCredits:   -amount.Int64(),
			ApplicationID:  applicationID.String(),
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationSpend,
		UserID:        userID,
		ApplicationID: applicationID,
		Delta:         -amount.Int64(),
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return spent, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
