package models

// Marketplace order statuses relevant to report bucketing.
const (
	OrderStatusUnpaid             = "UNPAID"
	OrderStatusOnHold             = "ON_HOLD"
	OrderStatusAwaitingShipment   = "AWAITING_SHIPMENT"
	OrderStatusPartiallyShipping  = "PARTIALLY_SHIPPING"
	OrderStatusAwaitingCollection = "AWAITING_COLLECTION"
	OrderStatusInTransit          = "IN_TRANSIT"
	OrderStatusDelivered          = "DELIVERED"
	OrderStatusCompleted          = "COMPLETED"
	OrderStatusCancelled          = "CANCELLED"
)

// Order is the subset of a marketplace order the report needs.
type Order struct {
	ID                    string     `json:"id"`
	Status                string     `json:"status"`
	CancelReason          string     `json:"cancel_reason"`
	CancellationInitiator string     `json:"cancellation_initiator"`
	CreateTime            int64      `json:"create_time"`
	UpdateTime            int64      `json:"update_time"`
	LineItems             []LineItem `json:"line_items"`
	Payment               *Payment   `json:"payment"`
}

type LineItem struct {
	ID               string `json:"id"`
	SkuID            string `json:"sku_id"`
	ProductName      string `json:"product_name"`
	SkuName          string `json:"sku_name"`
	DisplayStatus    string `json:"display_status"`
	OriginalPrice    string `json:"original_price"`
	SalePrice        string `json:"sale_price"`
	SellerDiscount   string `json:"seller_discount"`
	PlatformDiscount string `json:"platform_discount"`
	CancelReason     string `json:"cancel_reason"`
	Currency         string `json:"currency"`
}

// Payment amounts arrive as decimal strings.
type Payment struct {
	Currency                    string `json:"currency"`
	SubTotal                    string `json:"sub_total"`
	ShippingFee                 string `json:"shipping_fee"`
	SellerDiscount              string `json:"seller_discount"`
	PlatformDiscount            string `json:"platform_discount"`
	TotalAmount                 string `json:"total_amount"`
	OriginalTotalProductPrice   string `json:"original_total_product_price"`
	OriginalShippingFee         string `json:"original_shipping_fee"`
	ShippingFeeSellerDiscount   string `json:"shipping_fee_seller_discount"`
	ShippingFeePlatformDiscount string `json:"shipping_fee_platform_discount"`
	Tax                         string `json:"tax"`
}
