package credits

import (
	"context"
)

// UserSnapshot is the admin's per-user view.
type UserSnapshot struct {
	UserID             UserID
	Balance            BalanceView
	RecentTransactions []Transaction
}

// AdjustBalance writes a privileged signed adjustment. The reason is
// mandatory and stored verbatim for audit. Driving the balance negative is
// refused unless the service was configured to allow it.
func (service *Service) AdjustBalance(ctx context.Context, userID UserID, delta int64, reason AdjustmentReason) (Transaction, error) {
	var adjustment Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if delta == 0 {
			return ErrInvalidAdjustmentDelta
		}
		accountID, err := transactionStore.GetOrCreateAccountID(ctx, userID)
		if err != nil {
			return err
		}
		if delta < 0 && !service.allowNegativeBalance {
			if err := transactionStore.LockAccount(ctx, accountID); err != nil {
				return err
			}
			balance, err := transactionStore.SumDeltas(ctx, accountID)
			if err != nil {
				return err
			}
			if balance+delta < 0 {
				return ErrNegativeBalance
			}
		}
		adjustment, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      accountID,
			Kind:           TransactionAdminAdjustment,
			DeltaCredits:   delta,
			Reason:         reason.String(),
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAdjust,
		UserID:    userID,
		Delta:     delta,
		Reason:    reason.String(),
		Error:     operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return adjustment, nil
}

// RefundProject sweeps every application tied to a project and refunds each
// unrefunded spend in full, bypassing the status and window policy. Each
// refund commits on its own; per-item failures reduce the processed count
// instead of failing the sweep.
func (service *Service) RefundProject(ctx context.Context, projectID ProjectID) (SweepResult, error) {
	exists, err := service.store.ProjectExists(ctx, projectID)
	if err != nil {
		return SweepResult{}, err
	}
	if !exists {
		return SweepResult{}, ErrUnknownProject
	}
	applications, err := service.store.ListProjectApplications(ctx, projectID)
	if err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{TotalApplications: len(applications)}
	fullRefund := int64(100)
	for _, application := range applications {
		applicationID, err := NewApplicationID(application.ApplicationID)
		if err != nil {
			continue
		}
		if _, err := service.issueRefund(ctx, applicationID, &fullRefund); err != nil {
			continue
		}
		result.RefundsProcessed++
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationRefundProject,
		ProjectID: projectID,
		Delta:     int64(result.RefundsProcessed),
	})
	return result, nil
}

// AdminTransactions pages through the whole ledger with an optional kind filter.
func (service *Service) AdminTransactions(ctx context.Context, filter TransactionFilter, page int, limit int) ([]Transaction, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultAdminPageLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	transactions, total, err := service.store.ListAllTransactions(ctx, filter, page, limit)
	if err != nil {
		return nil, Pagination{}, err
	}
	return transactions, Pagination{Total: total, Page: page, Limit: limit}, nil
}

// AdminUserSnapshot returns the balance and recent activity for one user.
// Unlike Balance it never provisions: an unseen user is a not-found error.
func (service *Service) AdminUserSnapshot(ctx context.Context, userID UserID) (UserSnapshot, error) {
	accountID, err := service.store.FindAccountID(ctx, userID)
	if err != nil {
		return UserSnapshot{}, err
	}
	balance, err := service.balanceForAccount(ctx, accountID)
	if err != nil {
		return UserSnapshot{}, err
	}
	recent, err := service.store.ListTransactions(ctx, accountID, TransactionFilter{}, defaultAdminPageLimit)
	if err != nil {
		return UserSnapshot{}, err
	}
	return UserSnapshot{
		UserID:             userID,
		Balance:            balance,
		RecentTransactions: recent,
	}, nil
}
