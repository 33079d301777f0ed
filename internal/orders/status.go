package orders

type Status string

// Checkout writes every order as pending.
const StatusPending Status = "pending"

const DefaultPaymentMethod = "cash_on_delivery"
