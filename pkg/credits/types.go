package credits

import (
	"context"
	"fmt"
	"strings"
)

// CreditAmount is a strictly positive number of credits.
type CreditAmount int64

// UserID identifies an account owner.
type UserID struct {
	value string
}

// OrderID identifies an in-flight purchase order.
type OrderID struct {
	value string
}

// ApplicationID identifies the spend record a usage or refund points at.
type ApplicationID struct {
	value string
}

// ProjectID identifies a marketplace project.
type ProjectID struct {
	value string
}

// PackageID identifies a catalog entry.
type PackageID struct {
	value string
}

// AdjustmentReason is the mandatory audit note on an admin adjustment.
type AdjustmentReason struct {
	value string
}

// TransactionKind enumerates ledger transaction kinds.
type TransactionKind string

const (
	TransactionPurchase        TransactionKind = "purchase"
	TransactionUsage           TransactionKind = "usage"
	TransactionRefund          TransactionKind = "refund"
	TransactionAdminAdjustment TransactionKind = "admin_adjustment"
)

// OrderStatus defines the purchase order lifecycle.
type OrderStatus string

const (
	OrderStatusInitiated OrderStatus = "initiated"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// ApplicationStatus mirrors the project-application states the refund
// evaluator cares about.
type ApplicationStatus string

const (
	ApplicationStatusPending   ApplicationStatus = "pending"
	ApplicationStatusAccepted  ApplicationStatus = "accepted"
	ApplicationStatusWithdrawn ApplicationStatus = "withdrawn"
	ApplicationStatusRejected  ApplicationStatus = "rejected"
	ApplicationStatusExpired   ApplicationStatus = "expired"
)

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewOrderID validates and normalizes an order id.
func NewOrderID(raw string) (OrderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrderID{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	return OrderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OrderID) String() string {
	return id.value
}

// NewApplicationID validates and normalizes an application id.
func NewApplicationID(raw string) (ApplicationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ApplicationID{}, fmt.Errorf("%w: empty value", ErrInvalidApplicationID)
	}
	return ApplicationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ApplicationID) String() string {
	return id.value
}

// NewProjectID validates and normalizes a project id.
func NewProjectID(raw string) (ProjectID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ProjectID{}, fmt.Errorf("%w: empty value", ErrInvalidProjectID)
	}
	return ProjectID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ProjectID) String() string {
	return id.value
}

// NewPackageID validates and normalizes a package id.
func NewPackageID(raw string) (PackageID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PackageID{}, fmt.Errorf("%w: empty value", ErrInvalidPackageID)
	}
	return PackageID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PackageID) String() string {
	return id.value
}

// NewCreditAmount validates a credit amount and ensures it is strictly positive.
func NewCreditAmount(raw int64) (CreditAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCreditAmount)
	}
	return CreditAmount(raw), nil
}

// Int64 returns the raw credit count.
func (amount CreditAmount) Int64() int64 {
	return int64(amount)
}

// NewAdjustmentReason validates the mandatory audit note.
func NewAdjustmentReason(raw string) (AdjustmentReason, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AdjustmentReason{}, fmt.Errorf("%w: empty value", ErrInvalidAdjustmentReason)
	}
	return AdjustmentReason{value: trimmed}, nil
}

// String returns the reason verbatim as stored.
func (reason AdjustmentReason) String() string {
	return reason.value
}

// ParseTransactionKind validates a raw kind string.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case TransactionPurchase, TransactionUsage, TransactionRefund, TransactionAdminAdjustment:
		return TransactionKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
}

// String returns the kind as stored.
func (kind TransactionKind) String() string {
	return string(kind)
}

// ParseOrderStatus validates a raw status string.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch OrderStatus(raw) {
	case OrderStatusInitiated, OrderStatusCompleted, OrderStatusFailed:
		return OrderStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOrderStatus, raw)
}

// String returns the status as stored.
func (status OrderStatus) String() string {
	return string(status)
}

// Terminal reports whether no further transitions are allowed.
func (status OrderStatus) Terminal() bool {
	return status == OrderStatusCompleted || status == OrderStatusFailed
}

// ParseApplicationStatus validates a raw status string.
func ParseApplicationStatus(raw string) (ApplicationStatus, error) {
	switch ApplicationStatus(raw) {
	case ApplicationStatusPending, ApplicationStatusAccepted, ApplicationStatusWithdrawn,
		ApplicationStatusRejected, ApplicationStatusExpired:
		return ApplicationStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidApplicationStatus, raw)
}

// String returns the status as stored.
func (status ApplicationStatus) String() string {
	return string(status)
}

// A single immutable line in the ledger. Metadata carries free-form JSON
// context for the entry, such as the gateway payment id on a purchase.
type Transaction struct {
	TransactionID  string
	AccountID      string
	Kind           TransactionKind
	DeltaCredits   int64
	OrderID        string
	ApplicationID  string
	Reason         string
	Metadata       string
	CreatedUnixUTC int64
}

// Order represents a stored purchase order.
type Order struct {
	OrderID        string
	AccountID      string
	Credits        int64
	AmountMinor    int64
	Currency       string
	PackageID      string
	Status         OrderStatus
	GatewayKey     string
	CreatedUnixUTC int64
}

// Application is the spend record the refund evaluator reads. It is owned by
// the project service; this subsystem only reads it and flips RefundIssued.
type Application struct {
	ApplicationID string
	ProjectID     string
	UserID        string
	Status        ApplicationStatus
	RefundIssued  bool
}

// Project is the minimal projection of a marketplace project needed for the
// admin refund sweep.
type Project struct {
	ProjectID string
	Title     string
}

// Package is a purchasable credit bundle.
type Package struct {
	PackageID   string `json:"id"`
	Name        string `json:"name"`
	Credits     int64  `json:"credits"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// BalanceView is the per-account snapshot served to clients.
type BalanceView struct {
	Credits        int64
	TotalPurchased int64
	CreditsUsed    int64
	PricePerCredit int64
	Currency       string
}

// Eligibility is the outcome of a refund evaluation.
type Eligibility struct {
	Eligible      bool
	RefundCredits int64
	RefundPercent int64
	Status        ApplicationStatus
}

// SweepResult aggregates a project-wide refund sweep.
type SweepResult struct {
	RefundsProcessed  int
	TotalApplications int
}

// GatewayProof carries the payment gateway's completion evidence.
type GatewayProof struct {
	PaymentID string
	Signature string
}

// TransactionFilter narrows history queries. Zero value means no filter.
type TransactionFilter struct {
	Kind TransactionKind
}

// Pagination describes a page of the admin ledger view.
type Pagination struct {
	Total int64
	Page  int
	Limit int
}

// Store is the persistence contract used by Service. All ledger mutations
// go through WithTx so concurrent writers for one account serialize.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccountID(ctx context.Context, userID UserID) (string, error)
	FindAccountID(ctx context.Context, userID UserID) (string, error)
	LockAccount(ctx context.Context, accountID string) error
	InsertTransaction(ctx context.Context, transaction Transaction) (Transaction, error)
	SumDeltas(ctx context.Context, accountID string) (int64, error)
	SumByKind(ctx context.Context, accountID string, kind TransactionKind) (int64, error)
	ListTransactions(ctx context.Context, accountID string, filter TransactionFilter, limit int) ([]Transaction, error)
	ListAllTransactions(ctx context.Context, filter TransactionFilter, page int, limit int) ([]Transaction, int64, error)
	CreateOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, orderID OrderID) (Order, error)
	TransitionOrderStatus(ctx context.Context, orderID OrderID, from, to OrderStatus) error
	GetApplication(ctx context.Context, applicationID ApplicationID) (Application, error)
	MarkApplicationRefunded(ctx context.Context, applicationID ApplicationID) error
	FindUsageTransaction(ctx context.Context, applicationID ApplicationID) (Transaction, error)
	ProjectExists(ctx context.Context, projectID ProjectID) (bool, error)
	ListProjectApplications(ctx context.Context, projectID ProjectID) ([]Application, error)
	SaveProject(ctx context.Context, project Project) error
	SaveApplication(ctx context.Context, application Application) error
}
