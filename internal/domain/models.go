package domain

import "time"

const (
	ProductTypeSimple  = "simple"
	ProductTypeVariant = "variant"
	ProductTypePack    = "pack"
)

const (
	SaleStatusCompleted     = "Completed"
	SaleStatusCredit        = "Credit"
	SaleStatusPartiallyPaid = "PartiallyPaid"
	SaleStatusRefunded      = "Refunded"
)

const (
	PaymentTypeCash        = "cash"
	PaymentTypeWave        = "wave"
	PaymentTypeOrangeMoney = "orange_money"
	PaymentTypeCard        = "card"
	PaymentTypeCredit      = "credit"
	PaymentTypeDeposit     = "deposit"
)

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

const (
	CollectionProducts       = "products"
	CollectionCustomers      = "customers"
	CollectionCategories     = "categories"
	CollectionSales          = "sales"
	CollectionPayments       = "payments"
	CollectionDeposits       = "deposits"
	CollectionRefunds        = "refunds"
	CollectionCompanyProfile = "companyProfile"
)

// CompanyProfileID keys the singleton profile document.
const CompanyProfileID = "main"

type Variant struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	PriceModifier    int64  `json:"priceModifier"`
	Quantity         int    `json:"quantity"`
	ReorderThreshold int    `json:"reorderThreshold"`
}

type PackItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Product covers the three stock topologies. Quantity on a pack is a display
// cache only and is never read by the stock model.
type Product struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	CategoryID       string     `json:"categoryId,omitempty"`
	Image            string     `json:"image,omitempty"`
	Price            int64      `json:"price"`
	BasePrice        int64      `json:"basePrice"`
	Quantity         int        `json:"quantity"`
	ReorderThreshold int        `json:"reorderThreshold"`
	Variants         []Variant  `json:"variants,omitempty"`
	PackItems        []PackItem `json:"packItems,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (p Product) Clone() Product {
	out := p
	if p.Variants != nil {
		out.Variants = append([]Variant(nil), p.Variants...)
	}
	if p.PackItems != nil {
		out.PackItems = append([]PackItem(nil), p.PackItems...)
	}
	return out
}

func (p Product) FindVariant(variantID string) (Variant, int, bool) {
	for i, v := range p.Variants {
		if v.ID == variantID {
			return v, i, true
		}
	}
	return Variant{}, -1, false
}

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// Customer.Balance is positive when the customer owes the shop.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

type VariantRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StockMove records a quantity taken from one stock key.
type StockMove struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

// SaleLine is a snapshot taken when the sale is created. Consumed lists the
// leaf stock the line drew, so a refund returns exactly that.
type SaleLine struct {
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	ProductType string      `json:"productType"`
	Variant     *VariantRef `json:"variant,omitempty"`
	Quantity    int         `json:"quantity"`
	UnitPrice   int64       `json:"unitPrice"`
	Subtotal    int64       `json:"subtotal"`
	Consumed    []StockMove `json:"consumed,omitempty"`
}

func (l SaleLine) VariantID() string {
	if l.Variant == nil {
		return ""
	}
	return l.Variant.ID
}

type Sale struct {
	ID             string     `json:"id"`
	InvoiceID      string     `json:"invoiceId"`
	CustomerID     string     `json:"customerId"`
	CustomerName   string     `json:"customerName"`
	Items          []SaleLine `json:"items"`
	Subtotal       int64      `json:"subtotal"`
	DiscountAmount int64      `json:"discountAmount"`
	VATAmount      int64      `json:"vatAmount"`
	TotalPrice     int64      `json:"totalPrice"`
	PaidAmount     int64      `json:"paidAmount"`
	Status         string     `json:"status"`
	PaymentType    string     `json:"paymentType"`
	SaleDate       time.Time  `json:"saleDate"`
	UserID         string     `json:"userId"`
	UserPseudo     string     `json:"userPseudo,omitempty"`
	RefundID       string     `json:"refundId,omitempty"`
	RefundedAt     *time.Time `json:"refundedAt,omitempty"`
}

func (s Sale) Clone() Sale {
	out := s
	out.Items = make([]SaleLine, len(s.Items))
	for i, line := range s.Items {
		if line.Variant != nil {
			ref := *line.Variant
			line.Variant = &ref
		}
		if line.Consumed != nil {
			line.Consumed = append([]StockMove(nil), line.Consumed...)
		}
		out.Items[i] = line
	}
	if s.RefundedAt != nil {
		at := *s.RefundedAt
		out.RefundedAt = &at
	}
	return out
}

type Payment struct {
	ID           string    `json:"id"`
	SaleID       string    `json:"saleId"`
	InvoiceID    string    `json:"invoiceId"`
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName"`
	Amount       int64     `json:"amount"`
	PaymentType  string    `json:"paymentType"`
	PaymentDate  time.Time `json:"paymentDate"`
	UserID       string    `json:"userId"`
}

// Deposit is credit held for a customer. ConsumedAmount grows when the
// credit settles a sale.
type Deposit struct {
	ID             string    `json:"id"`
	DepositNumber  string    `json:"depositId"`
	CustomerID     string    `json:"customerId"`
	CustomerName   string    `json:"customerName"`
	Amount         int64     `json:"amount"`
	ConsumedAmount int64     `json:"consumedAmount"`
	PaymentType    string    `json:"paymentType"`
	DepositDate    time.Time `json:"depositDate"`
	UserID         string    `json:"userId"`
}

func (d Deposit) Remaining() int64 {
	return d.Amount - d.ConsumedAmount
}

type Refund struct {
	ID             string     `json:"id"`
	RefundNumber   string     `json:"refundId"`
	SaleID         string     `json:"saleId"`
	InvoiceID      string     `json:"invoiceId"`
	CustomerID     string     `json:"customerId"`
	CustomerName   string     `json:"customerName"`
	AmountReturned int64      `json:"amountReturned"`
	DebtCancelled  int64      `json:"debtCancelled"`
	Reason         string     `json:"reason"`
	Items          []SaleLine `json:"items"`
	SkippedItems   []string   `json:"skippedItems,omitempty"`
	RefundDate     time.Time  `json:"refundDate"`
	UserID         string     `json:"userId"`
}

type CompanyProfile struct {
	Name                 string `json:"name"`
	Address              string `json:"address"`
	Phone                string `json:"phone"`
	Logo                 string `json:"logo,omitempty"`
	InvoicePrefix        string `json:"invoicePrefix"`
	RefundPrefix         string `json:"refundPrefix"`
	DepositPrefix        string `json:"depositPrefix"`
	InvoiceFooterMessage string `json:"invoiceFooterMessage"`
	LastInvoiceNumber    int64  `json:"lastInvoiceNumber"`
	LastRefundNumber     int64  `json:"lastRefundNumber"`
	LastDepositNumber    int64  `json:"lastDepositNumber"`
}

type ChangeEvent struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Op         string    `json:"op"`
	At         time.Time `json:"at"`
}

const (
	ChangeOpUpsert = "upsert"
	ChangeOpDelete = "delete"
)

type Actor struct {
	Username string
	Pseudo   string
	Role     string
}

type UserAccount struct {
	Username  string
	Pseudo    string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
