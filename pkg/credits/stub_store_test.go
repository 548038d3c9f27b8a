package credits

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubStore is an in-memory Store for domain tests. It keeps the ledger as
// an append-only slice so balance assertions exercise the same
// sum-of-deltas definition the real stores use.
type stubStore struct {
	mu             sync.Mutex
	accounts       map[string]string
	transactions   []Transaction
	orders         map[string]Order
	applications   map[string]Application
	projects       map[string]Project
	lockedAccounts []string
	sequence       int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts:     make(map[string]string),
		orders:       make(map[string]Order),
		applications: make(map[string]Application),
		projects:     make(map[string]Project),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateAccountID(ctx context.Context, userID UserID) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if accountID, exists := store.accounts[userID.String()]; exists {
		return accountID, nil
	}
	store.sequence++
	accountID := fmt.Sprintf("acct-%d", store.sequence)
	store.accounts[userID.String()] = accountID
	return accountID, nil
}

func (store *stubStore) FindAccountID(ctx context.Context, userID UserID) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	accountID, exists := store.accounts[userID.String()]
	if !exists {
		return "", ErrUnknownUser
	}
	return accountID, nil
}

func (store *stubStore) LockAccount(ctx context.Context, accountID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.lockedAccounts = append(store.lockedAccounts, accountID)
	return nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction Transaction) (Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if transaction.Kind == TransactionPurchase {
		for _, existing := range store.transactions {
			if existing.Kind == TransactionPurchase && existing.OrderID == transaction.OrderID {
				return Transaction{}, ErrDuplicatePurchase
			}
		}
	}
	store.sequence++
	transaction.TransactionID = fmt.Sprintf("txn-%d", store.sequence)
	store.transactions = append(store.transactions, transaction)
	return transaction, nil
}

func (store *stubStore) SumDeltas(ctx context.Context, accountID string) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var sum int64
	for _, transaction := range store.transactions {
		if transaction.AccountID == accountID {
			sum += transaction.DeltaCredits
		}
	}
	return sum, nil
}

func (store *stubStore) SumByKind(ctx context.Context, accountID string, kind TransactionKind) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var sum int64
	for _, transaction := range store.transactions {
		if transaction.AccountID == accountID && transaction.Kind == kind {
			sum += transaction.DeltaCredits
		}
	}
	return sum, nil
}

func (store *stubStore) ListTransactions(ctx context.Context, accountID string, filter TransactionFilter, limit int) ([]Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var listed []Transaction
	for index := len(store.transactions) - 1; index >= 0; index-- {
		transaction := store.transactions[index]
		if transaction.AccountID != accountID {
			continue
		}
		if filter.Kind != "" && transaction.Kind != filter.Kind {
			continue
		}
		listed = append(listed, transaction)
		if len(listed) == limit {
			break
		}
	}
	return listed, nil
}

func (store *stubStore) ListAllTransactions(ctx context.Context, filter TransactionFilter, page int, limit int) ([]Transaction, int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matching []Transaction
	for index := len(store.transactions) - 1; index >= 0; index-- {
		transaction := store.transactions[index]
		if filter.Kind != "" && transaction.Kind != filter.Kind {
			continue
		}
		matching = append(matching, transaction)
	}
	total := int64(len(matching))
	offset := (page - 1) * limit
	if offset >= len(matching) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matching) {
		end = len(matching)
	}
	return matching[offset:end], total, nil
}

func (store *stubStore) CreateOrder(ctx context.Context, order Order) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.orders[order.OrderID]; exists {
		return ErrOrderClosed
	}
	store.orders[order.OrderID] = order
	return nil
}

func (store *stubStore) GetOrder(ctx context.Context, orderID OrderID) (Order, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	order, exists := store.orders[orderID.String()]
	if !exists {
		return Order{}, ErrUnknownOrder
	}
	return order, nil
}

func (store *stubStore) TransitionOrderStatus(ctx context.Context, orderID OrderID, from, to OrderStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	order, exists := store.orders[orderID.String()]
	if !exists {
		return ErrUnknownOrder
	}
	if order.Status != from {
		return ErrOrderClosed
	}
	order.Status = to
	store.orders[orderID.String()] = order
	return nil
}

func (store *stubStore) GetApplication(ctx context.Context, applicationID ApplicationID) (Application, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	application, exists := store.applications[applicationID.String()]
	if !exists {
		return Application{}, ErrUnknownApplication
	}
	return application, nil
}

func (store *stubStore) MarkApplicationRefunded(ctx context.Context, applicationID ApplicationID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	application, exists := store.applications[applicationID.String()]
	if !exists {
		return ErrUnknownApplication
	}
	if application.RefundIssued {
		return ErrAlreadyRefunded
	}
	application.RefundIssued = true
	store.applications[applicationID.String()] = application
	return nil
}

func (store *stubStore) FindUsageTransaction(ctx context.Context, applicationID ApplicationID) (Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, transaction := range store.transactions {
		if transaction.Kind == TransactionUsage && transaction.ApplicationID == applicationID.String() {
			return transaction, nil
		}
	}
	return Transaction{}, ErrNoSpendRecorded
}

func (store *stubStore) ProjectExists(ctx context.Context, projectID ProjectID) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	_, exists := store.projects[projectID.String()]
	return exists, nil
}

func (store *stubStore) ListProjectApplications(ctx context.Context, projectID ProjectID) ([]Application, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var listed []Application
	for _, application := range store.applications {
		if application.ProjectID == projectID.String() {
			listed = append(listed, application)
		}
	}
	return listed, nil
}

func (store *stubStore) SaveProject(ctx context.Context, project Project) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.projects[project.ProjectID] = project
	return nil
}

func (store *stubStore) SaveApplication(ctx context.Context, application Application) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.applications[application.ApplicationID] = application
	return nil
}

func (store *stubStore) countByKind(kind TransactionKind) int {
	store.mu.Lock()
	defer store.mu.Unlock()
	count := 0
	for _, transaction := range store.transactions {
		if transaction.Kind == kind {
			count++
		}
	}
	return count
}

// testClock is an adjustable clock for window assertions.
type testClock struct {
	now int64
}

func (clock *testClock) Now() int64 {
	return clock.now
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) (*Service, *testClock) {
	test.Helper()
	clock := &testClock{now: 1_700_000_000}
	service, err := NewService(store, clock.Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service, clock
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustOrderID(test *testing.T, raw string) OrderID {
	test.Helper()
	orderID, err := NewOrderID(raw)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	return orderID
}

func mustApplicationID(test *testing.T, raw string) ApplicationID {
	test.Helper()
	applicationID, err := NewApplicationID(raw)
	if err != nil {
		test.Fatalf("application id: %v", err)
	}
	return applicationID
}

func mustProjectID(test *testing.T, raw string) ProjectID {
	test.Helper()
	projectID, err := NewProjectID(raw)
	if err != nil {
		test.Fatalf("project id: %v", err)
	}
	return projectID
}

func mustCreditAmount(test *testing.T, raw int64) CreditAmount {
	test.Helper()
	amount, err := NewCreditAmount(raw)
	if err != nil {
		test.Fatalf("credit amount: %v", err)
	}
	return amount
}

func mustAdjustmentReason(test *testing.T, raw string) AdjustmentReason {
	test.Helper()
	reason, err := NewAdjustmentReason(raw)
	if err != nil {
		test.Fatalf("adjustment reason: %v", err)
	}
	return reason
}

func mustSpend(test *testing.T, service *Service, userID UserID, applicationID ApplicationID, amount int64) Transaction {
	test.Helper()
	spent, err := service.SpendOnApplication(context.Background(), userID, applicationID, mustCreditAmount(test, amount))
	if err != nil {
		test.Fatalf("spend: %v", err)
	}
	return spent
}

func mustGrantViaOrder(test *testing.T, service *Service, userID UserID, credits int64) Order {
	test.Helper()
	order, err := service.InitiatePurchase(context.Background(), userID, credits, nil)
	if err != nil {
		test.Fatalf("initiate purchase: %v", err)
	}
	if _, err := service.CompleteOrder(context.Background(), mustOrderID(test, order.OrderID), GatewayProof{}); err != nil {
		test.Fatalf("complete order: %v", err)
	}
	return order
}
