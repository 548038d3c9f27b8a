package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/reelcrew/credits/pkg/credits"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionOrder = "uniq_transactions_order"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintCode       = 19
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectBalance        = "balance"
	errorSubjectTransaction    = "transaction"
	errorSubjectOrder          = "order"
	errorSubjectApplication    = "application"
	errorSubjectProject        = "project"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLookup            = "lookup"
	errorCodeCount             = "count"
	errorCodeSave              = "save"
	errorCodeSumDeltas         = "sum_deltas"
	errorCodeSumByKind         = "sum_by_kind"
	errorCodeTransition        = "transition"
	errorCodeMarkRefunded      = "mark_refunded"
)

// Store implements credits.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. The daemon calls it for sqlite deployments;
// postgres schemas are managed externally.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &CreditTransaction{}, &PurchaseOrder{}, &ProjectApplication{}, &Project{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateAccountID(ctx context.Context, userID credits.UserID) (string, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"user_id": clause.Expr{SQL: "excluded.user_id"},
			}),
		}).
		FirstOrCreate(&account, Account{UserID: userID.String()}).Error
	if err != nil {
		return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account.AccountID, nil
}

func (store *Store) FindAccountID(ctx context.Context, userID credits.UserID) (string, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", wrapStoreError(errorSubjectAccount, errorCodeGet, credits.ErrUnknownUser)
		}
		return "", wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return account.AccountID, nil
}

// LockAccount takes the account row lock so a balance read and the write it
// guards happen against a stable sum.
func (store *Store) LockAccount(ctx context.Context, accountID string) error {
	var account Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wrapStoreError(errorSubjectAccount, errorCodeGet, credits.ErrUnknownUser)
		}
		return wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction credits.Transaction) (credits.Transaction, error) {
	row := CreditTransaction{
		AccountID:     transaction.AccountID,
		Kind:          transaction.Kind.String(),
		DeltaCredits:  transaction.DeltaCredits,
		OrderID:       optionalString(transaction.OrderID),
		ApplicationID: optionalString(transaction.ApplicationID),
		Reason:        transaction.Reason,
		Metadata:      optionalJSON(transaction.Metadata),
		CreatedAt:     time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, credits.ErrDuplicatePurchase)
	}
	if err != nil {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return mapTransaction(row)
}

func (store *Store) SumDeltas(ctx context.Context, accountID string) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Select("coalesce(sum(delta_credits),0) as total").
		Where("account_id = ?", accountID).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumDeltas, err)
	}
	return sum.Total, nil
}

func (store *Store) SumByKind(ctx context.Context, accountID string, kind credits.TransactionKind) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Select("coalesce(sum(delta_credits),0) as total").
		Where("account_id = ? AND kind = ?", accountID, kind.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumByKind, err)
	}
	return sum.Total, nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID string, filter credits.TransactionFilter, limit int) ([]credits.Transaction, error) {
	query := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, transaction_id DESC").
		Limit(limit)
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind.String())
	}
	var rows []CreditTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) ListAllTransactions(ctx context.Context, filter credits.TransactionFilter, page int, limit int) ([]credits.Transaction, int64, error) {
	base := store.db.WithContext(ctx).Model(&CreditTransaction{})
	if filter.Kind != "" {
		base = base.Where("kind = ?", filter.Kind.String())
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeCount, err)
	}
	var rows []CreditTransaction
	err := base.
		Order("created_at DESC, transaction_id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions, mapErr := mapTransactions(rows)
	if mapErr != nil {
		return nil, 0, mapErr
	}
	return transactions, total, nil
}

func (store *Store) CreateOrder(ctx context.Context, order credits.Order) error {
	row := PurchaseOrder{
		OrderID:     order.OrderID,
		AccountID:   order.AccountID,
		Credits:     order.Credits,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		PackageID:   order.PackageID,
		Status:      order.Status.String(),
		GatewayKey:  order.GatewayKey,
		CreatedAt:   time.Unix(order.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetOrder(ctx context.Context, orderID credits.OrderID) (credits.Order, error) {
	var row PurchaseOrder
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, credits.ErrUnknownOrder)
		}
		return credits.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return mapOrder(row)
}

func (store *Store) TransitionOrderStatus(ctx context.Context, orderID credits.OrderID, from, to credits.OrderStatus) error {
	result := store.db.WithContext(ctx).
		Model(&PurchaseOrder{}).
		Where("order_id = ? AND status = ?", orderID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeTransition, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeTransition, credits.ErrOrderClosed)
	}
	return nil
}

func (store *Store) GetApplication(ctx context.Context, applicationID credits.ApplicationID) (credits.Application, error) {
	var row ProjectApplication
	err := store.db.WithContext(ctx).
		Where("application_id = ?", applicationID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Application{}, wrapStoreError(errorSubjectApplication, errorCodeGet, credits.ErrUnknownApplication)
		}
		return credits.Application{}, wrapStoreError(errorSubjectApplication, errorCodeGet, err)
	}
	return mapApplication(row)
}

func (store *Store) MarkApplicationRefunded(ctx context.Context, applicationID credits.ApplicationID) error {
	result := store.db.WithContext(ctx).
		Model(&ProjectApplication{}).
		Where("application_id = ? AND refund_issued = ?", applicationID.String(), false).
		Update("refund_issued", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectApplication, errorCodeMarkRefunded, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := store.db.WithContext(ctx).Model(&ProjectApplication{}).Where("application_id = ?", applicationID.String()).Count(&count).Error; err != nil {
			return wrapStoreError(errorSubjectApplication, errorCodeMarkRefunded, err)
		}
		if count == 0 {
			return wrapStoreError(errorSubjectApplication, errorCodeMarkRefunded, credits.ErrUnknownApplication)
		}
		return wrapStoreError(errorSubjectApplication, errorCodeMarkRefunded, credits.ErrAlreadyRefunded)
	}
	return nil
}

func (store *Store) FindUsageTransaction(ctx context.Context, applicationID credits.ApplicationID) (credits.Transaction, error) {
	var row CreditTransaction
	err := store.db.WithContext(ctx).
		Where("application_id = ? AND kind = ?", applicationID.String(), credits.TransactionUsage.String()).
		Order("created_at ASC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, credits.ErrNoSpendRecorded)
		}
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	return mapTransaction(row)
}

func (store *Store) ProjectExists(ctx context.Context, projectID credits.ProjectID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Project{}).
		Where("project_id = ?", projectID.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectProject, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) ListProjectApplications(ctx context.Context, projectID credits.ProjectID) ([]credits.Application, error) {
	var rows []ProjectApplication
	err := store.db.WithContext(ctx).
		Where("project_id = ?", projectID.String()).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectApplication, errorCodeList, err)
	}
	applications := make([]credits.Application, 0, len(rows))
	for _, row := range rows {
		application, mapErr := mapApplication(row)
		if mapErr != nil {
			return nil, mapErr
		}
		applications = append(applications, application)
	}
	return applications, nil
}

func (store *Store) SaveProject(ctx context.Context, project credits.Project) error {
	row := Project{
		ProjectID: project.ProjectID,
		Title:     project.Title,
		CreatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectProject, errorCodeSave, err)
	}
	return nil
}

func (store *Store) SaveApplication(ctx context.Context, application credits.Application) error {
	row := ProjectApplication{
		ApplicationID: application.ApplicationID,
		ProjectID:     application.ProjectID,
		UserID:        application.UserID,
		Status:        application.Status.String(),
		RefundIssued:  application.RefundIssued,
		CreatedAt:     time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "application_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"project_id", "user_id", "status", "refund_issued"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectApplication, errorCodeSave, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapTransaction(row CreditTransaction) (credits.Transaction, error) {
	kind, err := credits.ParseTransactionKind(row.Kind)
	if err != nil {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return credits.Transaction{
		TransactionID:  row.TransactionID,
		AccountID:      row.AccountID,
		Kind:           kind,
		DeltaCredits:   row.DeltaCredits,
		OrderID:        stringOrEmpty(row.OrderID),
		ApplicationID:  stringOrEmpty(row.ApplicationID),
		Reason:         row.Reason,
		Metadata:       string(row.Metadata),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapTransactions(rows []CreditTransaction) ([]credits.Transaction, error) {
	transactions := make([]credits.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func mapOrder(row PurchaseOrder) (credits.Order, error) {
	status, err := credits.ParseOrderStatus(row.Status)
	if err != nil {
		return credits.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return credits.Order{
		OrderID:        row.OrderID,
		AccountID:      row.AccountID,
		Credits:        row.Credits,
		AmountMinor:    row.AmountMinor,
		Currency:       row.Currency,
		PackageID:      row.PackageID,
		Status:         status,
		GatewayKey:     row.GatewayKey,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapApplication(row ProjectApplication) (credits.Application, error) {
	status, err := credits.ParseApplicationStatus(row.Status)
	if err != nil {
		return credits.Application{}, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
	}
	return credits.Application{
		ApplicationID: row.ApplicationID,
		ProjectID:     row.ProjectID,
		UserID:        row.UserID,
		Status:        status,
		RefundIssued:  row.RefundIssued,
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func optionalJSON(value string) datatypes.JSON {
	if value == "" {
		return nil
	}
	return datatypes.JSON(value)
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionOrder
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
