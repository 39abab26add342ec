package enums

// PaymentStatus tracks whether an order has been paid.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

var paymentStatuses = []PaymentStatus{PaymentStatusUnpaid, PaymentStatusPaid}

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool {
	_, err := parse("payment status", string(p), paymentStatuses)
	return err == nil
}

// CanBecome reports whether moving from p to next is allowed. Payment
// status is monotonic: the only transition is unpaid to paid.
func (p PaymentStatus) CanBecome(next PaymentStatus) bool {
	return p == PaymentStatusUnpaid && next == PaymentStatusPaid
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return parse("payment status", value, paymentStatuses)
}
