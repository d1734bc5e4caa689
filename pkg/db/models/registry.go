package models

// All lists every persisted model. Tests use it to build a sqlite schema.
func All() []any {
	return []any{
		&Store{},
		&Product{},
		&Cart{},
		&CartItem{},
		&Order{},
		&SellerSubOrder{},
		&OrderItem{},
		&Shipment{},
		&ShipmentItem{},
		&PaymentTransaction{},
		&PaymentEvent{},
		&Refund{},
		&EscrowTransaction{},
		&ReturnRequest{},
		&ReturnItem{},
		&CommissionRule{},
		&CommissionTransaction{},
		&PayoutSchedule{},
		&Payout{},
		&Settlement{},
		&SettlementItem{},
		&CommissionInvoice{},
		&CommissionInvoiceItem{},
		&InvoiceSequence{},
		&LedgerEvent{},
		&ComplianceLog{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
