package credits

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoSpendRecorded marks an application without a usage transaction behind it.
var ErrNoSpendRecorded = errors.New("no spend recorded for application")

// CheckRefundEligibility evaluates whether the spend behind an application
// qualifies for a refund. A missing application is a not-found outcome, not
// an ineligible one; an application owned by another user is forbidden.
func (service *Service) CheckRefundEligibility(ctx context.Context, userID UserID, applicationID ApplicationID) (Eligibility, error) {
	application, err := service.store.GetApplication(ctx, applicationID)
	if err != nil {
		return Eligibility{}, err
	}
	if application.UserID != userID.String() {
		return Eligibility{}, ErrNotApplicationOwner
	}
	usage, err := service.store.FindUsageTransaction(ctx, applicationID)
	if err != nil {
		if errors.Is(err, ErrNoSpendRecorded) {
			return Eligibility{Status: application.Status}, nil
		}
		return Eligibility{}, err
	}
	return service.evaluateRefund(application, usage), nil
}

// IssueRefund credits back the eligible share of the original spend, exactly
// once per application and only for the application's owner. A second call
// fails with ErrAlreadyRefunded instead of writing a second refund
// transaction.
func (service *Service) IssueRefund(ctx context.Context, userID UserID, applicationID ApplicationID) (Transaction, error) {
	var refund Transaction
	application, operationError := service.store.GetApplication(ctx, applicationID)
	if operationError == nil && application.UserID != userID.String() {
		operationError = ErrNotApplicationOwner
	}
	if operationError == nil {
		refund, operationError = service.issueRefund(ctx, applicationID, nil)
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationRefund,
		UserID:        userID,
		ApplicationID: applicationID,
		Delta:         refund.DeltaCredits,
		Error:         operationError,
	})
	return refund, operationError
}

// issueRefund performs the refund write. percentOverride skips the status and
// window policy; the admin project sweep is its only caller.
func (service *Service) issueRefund(ctx context.Context, applicationID ApplicationID, percentOverride *int64) (Transaction, error) {
	var refund Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		application, err := transactionStore.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if application.RefundIssued {
			return ErrAlreadyRefunded
		}
		usage, err := transactionStore.FindUsageTransaction(ctx, applicationID)
		if err != nil {
			if errors.Is(err, ErrNoSpendRecorded) {
				return ErrNotEligible
			}
			return err
		}
		percent := int64(0)
		if percentOverride != nil {
			percent = *percentOverride
		} else {
			eligibility := service.evaluateRefund(application, usage)
			if !eligibility.Eligible {
				return ErrNotEligible
			}
			percent = eligibility.RefundPercent
		}
		refundCredits := (-usage.DeltaCredits) * percent / 100
		if refundCredits <= 0 {
			return ErrNotEligible
		}
		if err := transactionStore.MarkApplicationRefunded(ctx, applicationID); err != nil {
			return err
		}
		refund, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      usage.AccountID,
			Kind:           TransactionRefund,
			DeltaCredits:   refundCredits,
			ApplicationID:  applicationID.String(),
			Metadata:       refundMetadata(percent),
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return refund, nil
}

// refundMetadata records the applied percentage so partial refunds can be
// audited against the policy that produced them.
func refundMetadata(percent int64) string {
	raw, err := json.Marshal(map[string]int64{"refund_percent": percent})
	if err != nil {
		return ""
	}
	return string(raw)
}

func (service *Service) evaluateRefund(application Application, usage Transaction) Eligibility {
	outcome := Eligibility{Status: application.Status}
	if application.RefundIssued {
		return outcome
	}
	percent, refundable := service.refundPolicy.PercentByStatus[application.Status]
	if !refundable || percent <= 0 {
		return outcome
	}
	windowSeconds := int64(service.refundPolicy.WindowDays) * 24 * 60 * 60
	if service.nowFn()-usage.CreatedUnixUTC > windowSeconds {
		return outcome
	}
	refundCredits := (-usage.DeltaCredits) * percent / 100
	if refundCredits <= 0 {
		return outcome
	}
	outcome.Eligible = true
	outcome.RefundPercent = percent
	outcome.RefundCredits = refundCredits
	return outcome
}
