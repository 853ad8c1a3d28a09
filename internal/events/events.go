// Package events publishes change notifications after successful commits so
// dependent views and integrations can refresh. Publishing is best-effort:
// a failed publish never rolls back the billing work it announces.
package events

import "context"

const (
	TopicInvoiceCreated   = "billing.invoice.created"
	TopicAgreementChanged = "billing.agreement.changed"
	TopicPaymentChanged   = "billing.payment.changed"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}
