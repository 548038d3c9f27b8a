package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reelcrew/credits/pkg/credits"
)

const (
	constraintTransactionOrder = "uniq_transactions_order"
	pgUniqueViolationCode      = "23505"
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectBalance        = "balance"
	errorSubjectTransaction    = "transaction"
	errorSubjectOrder          = "order"
	errorSubjectApplication    = "application"
	errorSubjectProject        = "project"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
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

	sqlInsertOrGetAccount = `
		insert into accounts(account_id, user_id) values(gen_random_uuid(), $1)
		on conflict (user_id) do update set user_id = excluded.user_id
		returning account_id::text
	`

	sqlSelectAccount = `
		select account_id::text from accounts where user_id = $1
	`

	sqlLockAccount = `
		select account_id::text from accounts where account_id = $1 for update
	`

	sqlInsertTransaction = `
		insert into credit_transactions(
			transaction_id, account_id, kind, delta_credits, order_id, application_id, reason, metadata, created_at
		)
		values(
			gen_random_uuid(), $1, $2, $3,
			nullif($4,''), nullif($5,''), $6,
			nullif($7,'')::jsonb,
			to_timestamp($8)
		)
		returning transaction_id::text
	`

	sqlSumDeltas = `
		select coalesce(sum(delta_credits),0) from credit_transactions
		where account_id = $1
	`

	sqlSumByKind = `
		select coalesce(sum(delta_credits),0) from credit_transactions
		where account_id = $1 and kind = $2
	`

	sqlSelectTransactionColumns = `
		select
			transaction_id::text,
			account_id::text,
			kind,
			delta_credits,
			coalesce(order_id,''),
			coalesce(application_id,''),
			coalesce(reason,''),
			coalesce(metadata::text,''),
			extract(epoch from created_at)::bigint
		from credit_transactions
	`

	sqlListTransactions = sqlSelectTransactionColumns + `
		where account_id = $1 and ($2 = '' or kind = $2)
		order by created_at desc, transaction_id desc
		limit $3
	`

	sqlListAllTransactions = sqlSelectTransactionColumns + `
		where ($1 = '' or kind = $1)
		order by created_at desc, transaction_id desc
		offset $2 limit $3
	`

	sqlCountTransactions = `
		select count(*) from credit_transactions where ($1 = '' or kind = $1)
	`

	sqlFindUsageTransaction = sqlSelectTransactionColumns + `
		where application_id = $1 and kind = 'usage'
		order by created_at asc
		limit 1
	`

	sqlInsertOrder = `
		insert into purchase_orders(
			order_id, account_id, credits, amount_minor, currency, package_id, status, gateway_key, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, to_timestamp($9), now())
	`

	sqlSelectOrder = `
		select
			order_id,
			account_id::text,
			credits,
			amount_minor,
			currency,
			coalesce(package_id,''),
			status,
			coalesce(gateway_key,''),
			extract(epoch from created_at)::bigint
		from purchase_orders
		where order_id = $1
		for update
	`

	sqlTransitionOrderStatus = `
		update purchase_orders
		set status = $3, updated_at = now()
		where order_id = $1 and status = $2
	`

	sqlSelectApplication = `
		select application_id, project_id, user_id, status, refund_issued
		from project_applications
		where application_id = $1
	`

	sqlMarkApplicationRefunded = `
		update project_applications
		set refund_issued = true, updated_at = now()
		where application_id = $1 and refund_issued = false
	`

	sqlCountApplication = `
		select count(*) from project_applications where application_id = $1
	`

	sqlProjectExists = `
		select exists(select 1 from projects where project_id = $1)
	`

	sqlListProjectApplications = `
		select application_id, project_id, user_id, status, refund_issued
		from project_applications
		where project_id = $1
		order by created_at asc
	`

	sqlUpsertProject = `
		insert into projects(project_id, title, created_at) values($1, $2, now())
		on conflict (project_id) do update set title = excluded.title
	`

	sqlUpsertApplication = `
		insert into project_applications(application_id, project_id, user_id, status, refund_issued, created_at, updated_at)
		values($1, $2, $3, $4, $5, now(), now())
		on conflict (application_id) do update
		set project_id = excluded.project_id,
			user_id = excluded.user_id,
			status = excluded.status,
			refund_issued = excluded.refund_issued,
			updated_at = now()
	`
)

// querier is the common surface of pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements credits.Store using a pgx connection pool. Outside of
// WithTx every call autocommits; inside, all calls share one transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	if store.pool == nil {
		// Already inside a transaction; pgx transactions do not nest.
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateAccountID(ctx context.Context, userID credits.UserID) (string, error) {
	var accountID string
	if err := store.db.QueryRow(ctx, sqlInsertOrGetAccount, userID.String()).Scan(&accountID); err != nil {
		return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return accountID, nil
}

func (store *Store) FindAccountID(ctx context.Context, userID credits.UserID) (string, error) {
	var accountID string
	err := store.db.QueryRow(ctx, sqlSelectAccount, userID.String()).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", wrapStoreError(errorSubjectAccount, errorCodeGet, credits.ErrUnknownUser)
		}
		return "", wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return accountID, nil
}

// LockAccount takes the account row lock so a balance read and the write it
// guards happen against a stable sum.
func (store *Store) LockAccount(ctx context.Context, accountID string) error {
	var locked string
	err := store.db.QueryRow(ctx, sqlLockAccount, accountID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapStoreError(errorSubjectAccount, errorCodeGet, credits.ErrUnknownUser)
		}
		return wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction credits.Transaction) (credits.Transaction, error) {
	var transactionID string
	err := store.db.QueryRow(ctx, sqlInsertTransaction,
		transaction.AccountID,
		transaction.Kind.String(),
		transaction.DeltaCredits,
		transaction.OrderID,
		transaction.ApplicationID,
		transaction.Reason,
		transaction.Metadata,
		transaction.CreatedUnixUTC,
	).Scan(&transactionID)
	if isOrderConflict(err) {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, credits.ErrDuplicatePurchase)
	}
	if err != nil {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	inserted := transaction
	inserted.TransactionID = transactionID
	return inserted, nil
}

func (store *Store) SumDeltas(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumDeltas, accountID).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumDeltas, err)
	}
	return sum, nil
}

func (store *Store) SumByKind(ctx context.Context, accountID string, kind credits.TransactionKind) (int64, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumByKind, accountID, kind.String()).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumByKind, err)
	}
	return sum, nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID string, filter credits.TransactionFilter, limit int) ([]credits.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlListTransactions, accountID, filter.Kind.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transactions, nil
}

func (store *Store) ListAllTransactions(ctx context.Context, filter credits.TransactionFilter, page int, limit int) ([]credits.Transaction, int64, error) {
	var total int64
	if err := store.db.QueryRow(ctx, sqlCountTransactions, filter.Kind.String()).Scan(&total); err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeCount, err)
	}
	rows, err := store.db.Query(ctx, sqlListAllTransactions, filter.Kind.String(), (page-1)*limit, limit)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transactions, total, nil
}

func (store *Store) CreateOrder(ctx context.Context, order credits.Order) error {
	_, err := store.db.Exec(ctx, sqlInsertOrder,
		order.OrderID,
		order.AccountID,
		order.Credits,
		order.AmountMinor,
		order.Currency,
		order.PackageID,
		order.Status.String(),
		order.GatewayKey,
		order.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetOrder(ctx context.Context, orderID credits.OrderID) (credits.Order, error) {
	var (
		order       credits.Order
		statusValue string
	)
	err := store.db.QueryRow(ctx, sqlSelectOrder, orderID.String()).Scan(
		&order.OrderID,
		&order.AccountID,
		&order.Credits,
		&order.AmountMinor,
		&order.Currency,
		&order.PackageID,
		&statusValue,
		&order.GatewayKey,
		&order.CreatedUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return credits.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, credits.ErrUnknownOrder)
		}
		return credits.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	status, err := credits.ParseOrderStatus(statusValue)
	if err != nil {
		return credits.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	order.Status = status
	return order, nil
}

func (store *Store) TransitionOrderStatus(ctx context.Context, orderID credits.OrderID, from, to credits.OrderStatus) error {
	tag, err := store.db.Exec(ctx, sqlTransitionOrderStatus, orderID.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeTransition, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeTransition, credits.ErrOrderClosed)
	}
	return nil
}

func (store *Store) GetApplication(ctx context.Context, applicationID credits.ApplicationID) (credits.Application, error) {
	var (
		application credits.Application
		statusValue string
	)
	err := store.db.QueryRow(ctx, sqlSelectApplication, applicationID.String()).Scan(
		&application.ApplicationID,
		&application.ProjectID,
		&application.UserID,
		&statusValue,
		&application.RefundIssued,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return credits.Application{}, wrapStoreError(errorSubjectApplication, errorCodeGet, credits.ErrUnknownApplication)
		}
		return credits.Application{}, wrapStoreError(errorSubjectApplication, errorCodeGet, err)
	}
	status, err := credits.ParseApplicationStatus(statusValue)
	if err != nil {
		return credits.Application{}, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
	}
	application.Status = status
	return application, nil
}

func (store *Store) MarkApplicationRefunded(ctx context.Context, applicationID credits.ApplicationID) error {
	tag, err := store.db.Exec(ctx, sqlMarkApplicationRefunded, applicationID.String())
	if err != nil {
		return wrapStoreError(errorSubjectApplication, errorCodeMarkRefunded, err)
	}
	if tag.RowsAffected() == 0 {
		var count int64
		if err := store.db.QueryRow(ctx, sqlCountApplication, applicationID.String()).Scan(&count); err != nil {
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
	rows, err := store.db.Query(ctx, sqlFindUsageTransaction, applicationID.String())
	if err != nil {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	if len(transactions) == 0 {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, credits.ErrNoSpendRecorded)
	}
	return transactions[0], nil
}

func (store *Store) ProjectExists(ctx context.Context, projectID credits.ProjectID) (bool, error) {
	var exists bool
	if err := store.db.QueryRow(ctx, sqlProjectExists, projectID.String()).Scan(&exists); err != nil {
		return false, wrapStoreError(errorSubjectProject, errorCodeLookup, err)
	}
	return exists, nil
}

func (store *Store) ListProjectApplications(ctx context.Context, projectID credits.ProjectID) ([]credits.Application, error) {
	rows, err := store.db.Query(ctx, sqlListProjectApplications, projectID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectApplication, errorCodeList, err)
	}
	defer rows.Close()
	applications := make([]credits.Application, 0, 16)
	for rows.Next() {
		var (
			application credits.Application
			statusValue string
		)
		if err := rows.Scan(
			&application.ApplicationID,
			&application.ProjectID,
			&application.UserID,
			&statusValue,
			&application.RefundIssued,
		); err != nil {
			return nil, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
		}
		status, err := credits.ParseApplicationStatus(statusValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectApplication, errorCodeInvalid, err)
		}
		application.Status = status
		applications = append(applications, application)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectApplication, errorCodeList, err)
	}
	return applications, nil
}

func (store *Store) SaveProject(ctx context.Context, project credits.Project) error {
	if _, err := store.db.Exec(ctx, sqlUpsertProject, project.ProjectID, project.Title); err != nil {
		return wrapStoreError(errorSubjectProject, errorCodeSave, err)
	}
	return nil
}

func (store *Store) SaveApplication(ctx context.Context, application credits.Application) error {
	_, err := store.db.Exec(ctx, sqlUpsertApplication,
		application.ApplicationID,
		application.ProjectID,
		application.UserID,
		application.Status.String(),
		application.RefundIssued,
	)
	if err != nil {
		return wrapStoreError(errorSubjectApplication, errorCodeSave, err)
	}
	return nil
}

func scanTransactions(rows pgx.Rows) ([]credits.Transaction, error) {
	transactions := make([]credits.Transaction, 0, 32)
	for rows.Next() {
		var (
			transaction credits.Transaction
			kindValue   string
		)
		if err := rows.Scan(
			&transaction.TransactionID,
			&transaction.AccountID,
			&kindValue,
			&transaction.DeltaCredits,
			&transaction.OrderID,
			&transaction.ApplicationID,
			&transaction.Reason,
			&transaction.Metadata,
			&transaction.CreatedUnixUTC,
		); err != nil {
			return nil, err
		}
		kind, err := credits.ParseTransactionKind(kindValue)
		if err != nil {
			return nil, err
		}
		transaction.Kind = kind
		transactions = append(transactions, transaction)
	}
	return transactions, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isOrderConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionOrder
	}
	return false
}
