package enums

// PaymentTrigger names the entry path that asked for reconciliation.
type PaymentTrigger string

const (
	TriggerVerify   PaymentTrigger = "verify"
	TriggerWebhook  PaymentTrigger = "webhook"
	TriggerCallback PaymentTrigger = "callback"
	TriggerSweep    PaymentTrigger = "sweep"
)

func (t PaymentTrigger) String() string {
	if t == "" {
		return "unknown"
	}
	return string(t)
}
