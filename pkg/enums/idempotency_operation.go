package enums

// IdempotencyOperation scopes an external transaction id to a mutation.
type IdempotencyOperation string

const (
	IdempotencyOperationSubscribe IdempotencyOperation = "SUBSCRIBE"
	IdempotencyOperationRenew     IdempotencyOperation = "RENEW"
	IdempotencyOperationUpdate    IdempotencyOperation = "UPDATE"
	IdempotencyOperationPurchase  IdempotencyOperation = "PURCHASE"
)
