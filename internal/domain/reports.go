package domain

type StockView struct {
	ProductID        string `json:"productId"`
	VariantID        string `json:"variantId,omitempty"`
	Name             string `json:"name"`
	Available        int    `json:"available"`
	ReorderThreshold int    `json:"reorderThreshold"`
	LowStock         bool   `json:"lowStock"`
}

type ProductStock struct {
	Product Product     `json:"product"`
	Stock   []StockView `json:"stock"`
}

type ReorderReport struct {
	Policy      string      `json:"policy"`
	GeneratedAt string      `json:"generatedAt"`
	Items       []StockView `json:"items"`
}

type BalanceDiscrepancy struct {
	CustomerID      string `json:"customerId"`
	CustomerName    string `json:"customerName"`
	StoredBalance   int64  `json:"storedBalance"`
	ExpectedBalance int64  `json:"expectedBalance"`
	Drift           int64  `json:"drift"`
}

type ReconcileReport struct {
	CheckedCustomers int                  `json:"checkedCustomers"`
	Discrepancies    []BalanceDiscrepancy `json:"discrepancies"`
	GeneratedAt      string               `json:"generatedAt"`
}

type CustomerStatement struct {
	Customer        Customer  `json:"customer"`
	Sales           []Sale    `json:"sales"`
	Payments        []Payment `json:"payments"`
	Deposits        []Deposit `json:"deposits"`
	Refunds         []Refund  `json:"refunds"`
	OutstandingDebt int64     `json:"outstandingDebt"`
	AvailableCredit int64     `json:"availableCredit"`
	ExpectedBalance int64     `json:"expectedBalance"`
}

type SalesSummary struct {
	From           string           `json:"from"`
	To             string           `json:"to"`
	SaleCount      int              `json:"saleCount"`
	GrossTotal     int64            `json:"grossTotal"`
	CollectedTotal int64            `json:"collectedTotal"`
	Outstanding    int64            `json:"outstanding"`
	RefundedTotal  int64            `json:"refundedTotal"`
	ByStatus       map[string]int   `json:"byStatus"`
	ByPaymentType  map[string]int64 `json:"byPaymentType"`
}
