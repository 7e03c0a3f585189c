package enums

// PaymentAttemptStatus tracks the lifecycle of a single charge attempt.
type PaymentAttemptStatus string

const (
	PaymentAttemptPending        PaymentAttemptStatus = "pending"
	PaymentAttemptSucceeded      PaymentAttemptStatus = "succeeded"
	PaymentAttemptFailed         PaymentAttemptStatus = "failed"
	PaymentAttemptRequiresAction PaymentAttemptStatus = "requires_action"
)

func (p PaymentAttemptStatus) String() string { return string(p) }

// PaymentOutcome is what the gateway reports for a charge.
type PaymentOutcome string

const (
	PaymentOutcomeSucceeded      PaymentOutcome = "succeeded"
	PaymentOutcomeFailed         PaymentOutcome = "failed"
	PaymentOutcomeRequiresAction PaymentOutcome = "requires_action"
)

var paymentOutcomes = []PaymentOutcome{
	PaymentOutcomeSucceeded,
	PaymentOutcomeFailed,
	PaymentOutcomeRequiresAction,
}

func (o PaymentOutcome) IsValid() bool {
	_, err := ParsePaymentOutcome(string(o))
	return err == nil
}

// AttemptStatus maps the outcome onto the recorded attempt status.
func (o PaymentOutcome) AttemptStatus() PaymentAttemptStatus {
	switch o {
	case PaymentOutcomeSucceeded:
		return PaymentAttemptSucceeded
	case PaymentOutcomeRequiresAction:
		return PaymentAttemptRequiresAction
	default:
		return PaymentAttemptFailed
	}
}

func ParsePaymentOutcome(value string) (PaymentOutcome, error) {
	return parse("payment outcome", value, paymentOutcomes)
}
