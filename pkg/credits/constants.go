package credits

const (
	operationInitiate      = "initiate_purchase"
	operationComplete      = "complete_order"
	operationFail          = "fail_order"
	operationSpend         = "spend"
	operationRefund        = "refund"
	operationAdjust        = "adjust_balance"
	operationRefundProject = "refund_project"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	orderIDPrefix = "order_"

	// Price applied uniformly regardless of package.
	DefaultPricePerCredit int64 = 50
	DefaultCurrency             = "INR"

	// Minor currency units per unit (paise per rupee).
	minorUnitsPerCurrency int64 = 100

	defaultRefundWindowDays = 30
	defaultHistoryLimit     = 50
	maxHistoryLimit         = 200
	defaultAdminPageLimit   = 10
)

// Refund percentages by terminal application status.
const (
	refundPercentWithdrawn int64 = 50
	refundPercentRejected  int64 = 100
	refundPercentExpired   int64 = 100
)
