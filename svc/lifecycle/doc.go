// Package lifecycle implements the subscription lifecycle: creating,
// upgrading, downgrading, cancelling, trialling and renewing subscriptions,
// plus the feature checks and sweeps that go with them.
//
// Every operation follows the same shape. The stored subscription is loaded
// and settled (ended trials and periods become expired), the transition
// table decides whether the requested change is allowed, the change is
// priced with the catalog and the billing calculator, and the gateway is
// charged without any lock held. The result is then applied in one
// read-modify-write through subscription.Mutator, which re-evaluates the
// transition against the latest record and retries on version conflicts.
//
//	m := lifecycle.New(store, catalog.Default(), gw,
//		lifecycle.WithLocker(locker),
//		lifecycle.WithAwarder(points),
//		lifecycle.WithMetrics(metrics.New(reg)),
//	)
//	sub, err := m.UpgradeSubscription(ctx, userID, catalog.PlanPremium, "", gateway.PaymentDetails{})
//	var perr *subscription.PaymentError
//	if errors.As(err, &perr) && perr.Pending {
//		// a webhook will finish the upgrade
//	}
//
// # Payments
//
// A declined charge leaves the subscription untouched, except for renewals,
// which suspend it. A charge that times out or that the provider settles
// asynchronously is recorded as a pending charge and reported as a pending
// PaymentError; HandleGatewayEvent applies it when the provider's webhook
// arrives. Charges are keyed by a derived idempotency key and invoices
// remember it, so repeated webhooks and retried requests apply once. When a
// captured charge can no longer be applied, e.g. because the user upgraded
// through another request meanwhile, a refund_due invoice is recorded.
//
// # Sweeps
//
// RenewDue, ExpireDue and ResetStaleUsage are meant to be triggered
// periodically from outside, for instance by billingctl schedule.
//
// # Points
//
// Successful purchases and upgrades award gamification points in the
// background. Award failures are logged and never affect the subscription.
// Call Wait before shutdown to let pending awards finish.
package lifecycle
