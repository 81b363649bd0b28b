package models

import "strings"

const (
	BucketShipped = "Shipped"
	BucketToShip  = "To ship"

	CancellationCancel = "Cancel"
	CancellationReturn = "Return/Refund"
)

// OrderRow is one flattened report line: a distinct SKU of an order, or
// the order itself when it has no line items.
type OrderRow struct {
	OrderID                     string `json:"order_id"`
	OrderStatus                 string `json:"order_status"`
	OrderSubstatus              string `json:"order_substatus"`
	CancellationReturnType      string `json:"cancellation_return_type"`
	SkuID                       string `json:"sku_id"`
	ProductName                 string `json:"product_name"`
	Variation                   string `json:"variation"`
	Quantity                    string `json:"quantity"`
	SkuQuantityReturn           string `json:"sku_quantity_return"`
	SkuUnitOriginalPrice        string `json:"sku_unit_original_price"`
	SkuSubtotalBeforeDiscount   string `json:"sku_subtotal_before_discount"`
	SkuPlatformDiscount         string `json:"sku_platform_discount"`
	SkuSellerDiscount           string `json:"sku_seller_discount"`
	SkuSubtotalAfterDiscount    string `json:"sku_subtotal_after_discount"`
	ShippingFeeAfterDiscount    string `json:"shipping_fee_after_discount"`
	OriginalShippingFee         string `json:"original_shipping_fee"`
	ShippingFeeSellerDiscount   string `json:"shipping_fee_seller_discount"`
	ShippingFeePlatformDiscount string `json:"shipping_fee_platform_discount"`
	PaymentPlatformDiscount     string `json:"payment_platform_discount"`
	Taxes                       string `json:"taxes"`
	OrderAmount                 string `json:"order_amount"`
	OrderRefundAmount           string `json:"order_refund_amount"`
	CreatedTime                 string `json:"created_time"`
	CancelReason                string `json:"cancel_reason"`
	CancellationInitiator       string `json:"cancellation_initiator"`

	// CreateTime is the raw epoch used for window filtering and sheet routing.
	CreateTime int64 `json:"-"`
}

// ReportHeader lists column titles in the order Values emits them.
var ReportHeader = []string{
	"Order ID",
	"Order Status",
	"Order Substatus",
	"Cancelation/Return Type",
	"SKU ID",
	"Product Name",
	"Variation",
	"Quantity",
	"Sku Quantity of return",
	"SKU Unit Original Price",
	"SKU Subtotal Before Discount",
	"SKU Platform Discount",
	"SKU Seller Discount",
	"SKU Subtotal After Discount",
	"Shipping Fee After Discount",
	"Original Shipping Fee",
	"Shipping Fee Seller Discount",
	"Shipping Fee Platform Discount",
	"Payment Platform Discount",
	"Taxes",
	"Order Amount",
	"Order Refund Amount",
	"Created Time",
	"Cancel Reason",
	"Cancelled By",
}

// NumericColumns are the sheet columns holding amounts or counts.
var NumericColumns = []string{"H", "I", "J", "K", "L", "M", "N", "O", "P", "Q", "R", "S", "T", "U", "V"}

// Key is the dedup key of the row.
func (r OrderRow) Key() string {
	return strings.Join([]string{r.OrderID, r.SkuID, r.ProductName, r.Quantity, r.CreatedTime, r.OrderStatus}, "")
}

// Values renders the row as a sheet row.
func (r OrderRow) Values() []interface{} {
	return []interface{}{
		r.OrderID,
		r.OrderStatus,
		r.OrderSubstatus,
		r.CancellationReturnType,
		r.SkuID,
		r.ProductName,
		r.Variation,
		r.Quantity,
		r.SkuQuantityReturn,
		r.SkuUnitOriginalPrice,
		r.SkuSubtotalBeforeDiscount,
		r.SkuPlatformDiscount,
		r.SkuSellerDiscount,
		r.SkuSubtotalAfterDiscount,
		r.ShippingFeeAfterDiscount,
		r.OriginalShippingFee,
		r.ShippingFeeSellerDiscount,
		r.ShippingFeePlatformDiscount,
		r.PaymentPlatformDiscount,
		r.Taxes,
		r.OrderAmount,
		r.OrderRefundAmount,
		r.CreatedTime,
		r.CancelReason,
		r.CancellationInitiator,
	}
}

// HeaderValues returns ReportHeader as a sheet row.
func HeaderValues() []interface{} {
	out := make([]interface{}, len(ReportHeader))
	for i, h := range ReportHeader {
		out[i] = h
	}
	return out
}
