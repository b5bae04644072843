package domain

import "time"

type CartItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

type SaleRequest struct {
	CustomerID     string     `json:"customerId"`
	PaymentType    string     `json:"paymentType"`
	DiscountAmount int64      `json:"discountAmount"`
	VATAmount      int64      `json:"vatAmount"`
	PaidAmount     int64      `json:"paidAmount"`
	Items          []CartItem `json:"items"`
}

type PaymentRequest struct {
	Amount      int64  `json:"amount"`
	PaymentType string `json:"paymentType"`
}

type DepositRequest struct {
	Amount      int64  `json:"amount"`
	PaymentType string `json:"paymentType"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

type ProductRequest struct {
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	CategoryID       string     `json:"categoryId"`
	Image            string     `json:"image"`
	Price            int64      `json:"price"`
	BasePrice        int64      `json:"basePrice"`
	Quantity         int        `json:"quantity"`
	ReorderThreshold int        `json:"reorderThreshold"`
	Variants         []Variant  `json:"variants"`
	PackItems        []PackItem `json:"packItems"`
}

type ProductUpdateRequest struct {
	Name             *string     `json:"name,omitempty"`
	CategoryID       *string     `json:"categoryId,omitempty"`
	Image            *string     `json:"image,omitempty"`
	Price            *int64      `json:"price,omitempty"`
	BasePrice        *int64      `json:"basePrice,omitempty"`
	Quantity         *int        `json:"quantity,omitempty"`
	ReorderThreshold *int        `json:"reorderThreshold,omitempty"`
	Variants         *[]Variant  `json:"variants,omitempty"`
	PackItems        *[]PackItem `json:"packItems,omitempty"`
}

type CategoryRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parentId"`
}

type CustomerRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type CompanyProfileUpdateRequest struct {
	Name                 string `json:"name"`
	Address              string `json:"address"`
	Phone                string `json:"phone"`
	Logo                 string `json:"logo"`
	InvoicePrefix        string `json:"invoicePrefix"`
	RefundPrefix         string `json:"refundPrefix"`
	DepositPrefix        string `json:"depositPrefix"`
	InvoiceFooterMessage string `json:"invoiceFooterMessage"`
}

type SaleFilter struct {
	CustomerID      string
	Status          string
	From            *time.Time
	To              *time.Time
	OutstandingOnly bool
	Limit           int
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Pseudo      string `json:"pseudo"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Pseudo   string `json:"pseudo"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserView struct {
	Username  string `json:"username"`
	Pseudo    string `json:"pseudo"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}
