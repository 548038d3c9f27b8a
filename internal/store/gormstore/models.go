package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. One row per user, provisioned
// lazily on first contact.
type Account struct {
	AccountID string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_accounts_user"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// CreditTransaction mirrors the credit_transactions table. The unique index
// on order_id is what makes a second purchase for the same order impossible
// at the storage layer.
type CreditTransaction struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	AccountID     string         `gorm:"type:uuid;not null;index:idx_transactions_account_created,priority:1"`
	Kind          string         `gorm:"not null;index:idx_transactions_kind"`
	DeltaCredits  int64          `gorm:"not null"`
	OrderID       *string        `gorm:"uniqueIndex:uniq_transactions_order"`
	ApplicationID *string        `gorm:"index:idx_transactions_application"`
	Reason        string         `gorm:""`
	Metadata      datatypes.JSON `gorm:""`
	CreatedAt     time.Time      `gorm:"not null;index:idx_transactions_account_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// PurchaseOrder mirrors the purchase_orders table.
type PurchaseOrder struct {
	OrderID     string    `gorm:"primaryKey"`
	AccountID   string    `gorm:"type:uuid;not null;index:idx_orders_account"`
	Credits     int64     `gorm:"not null"`
	AmountMinor int64     `gorm:"not null"`
	Currency    string    `gorm:"not null"`
	PackageID   string    `gorm:""`
	Status      string    `gorm:"not null"`
	GatewayKey  string    `gorm:""`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (PurchaseOrder) TableName() string { return "purchase_orders" }

// ProjectApplication mirrors the project_applications table. Owned by the
// project service; this subsystem reads it and flips refund_issued.
type ProjectApplication struct {
	ApplicationID string    `gorm:"primaryKey"`
	ProjectID     string    `gorm:"not null;index:idx_applications_project"`
	UserID        string    `gorm:"not null;index:idx_applications_user"`
	Status        string    `gorm:"not null"`
	RefundIssued  bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (ProjectApplication) TableName() string { return "project_applications" }

// Project mirrors the projects table.
type Project struct {
	ProjectID string    `gorm:"primaryKey"`
	Title     string    `gorm:""`
	CreatedAt time.Time `gorm:"not null"`
}

func (Project) TableName() string { return "projects" }
