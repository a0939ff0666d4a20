package ledger

// Invoice and Bill are the narrow contracts the allocation engine needs
// from the customer-invoicing/supplier-billing CRUD surfaces, which spec
// §1 treats as external collaborators; only the fields the core actually
// reads or writes are modeled here.
type Invoice struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	GrandTotal Cents  `json:"grand_total"`
	AmountPaid Cents  `json:"amount_paid"`
}

// Remaining returns the outstanding balance on the invoice.
func (i *Invoice) Remaining() Cents { return i.GrandTotal - i.AmountPaid }

type Bill struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	GrandTotal Cents  `json:"grand_total"`
	AmountPaid Cents  `json:"amount_paid"`
}

// Remaining returns the outstanding balance on the bill.
func (b *Bill) Remaining() Cents { return b.GrandTotal - b.AmountPaid }

// BankRule short-circuits the matching engine: a bank transaction whose
// description contains MerchantPattern (case-insensitively) is suggested
// against CategoryAccountID with high confidence, independent of amount
// or date proximity.
type BankRule struct {
	ID                string `json:"id"`
	TenantID          string `json:"tenant_id"`
	MerchantPattern   string `json:"merchant_pattern"`
	CategoryAccountID string `json:"category_account_id"`
}
