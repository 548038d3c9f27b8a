package credits

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing credits operation.
type OperationLog struct {
	Operation     string
	UserID        UserID
	OrderID       OrderID
	ApplicationID ApplicationID
	ProjectID     ProjectID
	Delta         int64
	Reason        string
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// Pricing controls the uniform credit price applied to orders and packages.
type Pricing struct {
	PricePerCredit int64
	Currency       string
}

// WithPricing overrides the default pricing.
func WithPricing(pricing Pricing) ServiceOption {
	return func(service *Service) {
		if pricing.PricePerCredit > 0 {
			service.pricing.PricePerCredit = pricing.PricePerCredit
		}
		if pricing.Currency != "" {
			service.pricing.Currency = pricing.Currency
		}
	}
}

// Gateway carries the payment gateway correlation settings.
type Gateway struct {
	KeyID  string
	Secret string
}

// WithGateway wires the gateway key handed to clients and the secret used to
// verify completion proofs. An empty secret disables signature checks.
func WithGateway(gateway Gateway) ServiceOption {
	return func(service *Service) {
		service.gateway = gateway
	}
}

// RefundPolicy decides refund percentages and the eligibility window.
type RefundPolicy struct {
	PercentByStatus map[ApplicationStatus]int64
	WindowDays      int
}

// WithRefundPolicy overrides the default refund policy.
func WithRefundPolicy(policy RefundPolicy) ServiceOption {
	return func(service *Service) {
		if policy.PercentByStatus != nil {
			service.refundPolicy.PercentByStatus = policy.PercentByStatus
		}
		if policy.WindowDays > 0 {
			service.refundPolicy.WindowDays = policy.WindowDays
		}
	}
}

// WithCatalog replaces the default package catalog.
func WithCatalog(packages []Package) ServiceOption {
	return func(service *Service) {
		if len(packages) > 0 {
			service.catalog = packages
		}
	}
}

// WithNegativeBalanceAllowed lets admin adjustments drive a balance below zero.
func WithNegativeBalanceAllowed(allowed bool) ServiceOption {
	return func(service *Service) {
		service.allowNegativeBalance = allowed
	}
}
