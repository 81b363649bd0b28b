// Package orders turns raw marketplace orders into flat report rows.
package orders

import (
	"math"
	"strconv"
	"strings"

	"tiktok-sheets/internal/models"
)

// Extract flattens orders into one row per distinct SKU, or one summary
// row for an order without line items. It has no side effects.
func Extract(orders []models.Order, region string) []models.OrderRow {
	rows := make([]models.OrderRow, 0, len(orders))
	for i := range orders {
		order := &orders[i]
		if len(order.LineItems) == 0 {
			rows = append(rows, summaryRow(order, region))
			continue
		}
		rows = append(rows, skuRows(order, region)...)
	}
	return rows
}

// FormatOrderID rewrites ids ending in "000" into exponent form so
// spreadsheets do not silently round them.
func FormatOrderID(id string) string {
	if !strings.HasSuffix(id, "000") {
		return id
	}
	f, err := strconv.ParseFloat(id, 64)
	if err != nil {
		return id
	}
	return strconv.FormatFloat(f, 'e', 5, 64)
}

// StatusBucket maps a marketplace status onto the report buckets.
func StatusBucket(status string) string {
	switch status {
	case models.OrderStatusCancelled, models.OrderStatusCompleted:
		return status
	case models.OrderStatusInTransit, models.OrderStatusDelivered:
		return models.BucketShipped
	default:
		return models.BucketToShip
	}
}

// CancellationType classifies cancelled and refunded orders.
func CancellationType(status, cancelReason string) string {
	switch {
	case status == models.OrderStatusCancelled:
		return models.CancellationCancel
	case status == models.OrderStatusCompleted && cancelReason != "":
		return models.CancellationReturn
	default:
		return ""
	}
}

func skuRows(order *models.Order, region string) []models.OrderRow {
	counts := make(map[string]int, len(order.LineItems))
	for _, item := range order.LineItems {
		counts[item.SkuID]++
	}

	payment := order.Payment
	if payment == nil {
		payment = &models.Payment{}
	}
	subTotal := parseAmount(payment.SubTotal)
	totalAmount := parseAmount(payment.TotalAmount)
	createdTime := FormatCreateTime(order.CreateTime, region)
	orderID := FormatOrderID(order.ID)

	seen := make(map[string]bool, len(counts))
	rows := make([]models.OrderRow, 0, len(counts))
	for _, item := range order.LineItems {
		if seen[item.SkuID] {
			continue
		}
		seen[item.SkuID] = true

		qty := counts[item.SkuID]
		reason := firstNonEmpty(order.CancelReason, item.CancelReason)
		cancellation := CancellationType(order.Status, reason)

		before := round2(parseAmount(item.OriginalPrice) * float64(qty))
		sellerDiscount := round2(parseAmount(item.SellerDiscount) * float64(qty))
		skuPlatform := math.Max(before-subTotal-sellerDiscount, 0)

		var paymentPlatform float64
		if diff := subTotal - totalAmount; diff >= 0 {
			paymentPlatform = diff
		} else {
			paymentPlatform = math.Max(parseAmount(payment.PlatformDiscount)-round2(skuPlatform), 0)
		}

		row := baseRow(order, payment, orderID, createdTime)
		row.OrderSubstatus = firstNonEmpty(item.DisplayStatus, order.Status)
		row.CancellationReturnType = cancellation
		row.SkuID = item.SkuID
		row.ProductName = item.ProductName
		row.Variation = item.SkuName
		row.Quantity = strconv.Itoa(qty)
		row.SkuQuantityReturn = "0"
		row.SkuUnitOriginalPrice = item.OriginalPrice
		row.SkuSubtotalBeforeDiscount = formatPlain(before)
		row.SkuPlatformDiscount = formatFixed(skuPlatform)
		row.SkuSellerDiscount = formatPlain(sellerDiscount)
		row.SkuSubtotalAfterDiscount = orZero(item.SalePrice)
		row.PaymentPlatformDiscount = formatFixed(paymentPlatform)
		row.CancelReason = reason
		if cancellation != "" {
			row.SkuQuantityReturn = row.Quantity
			row.OrderRefundAmount = orZero(payment.TotalAmount)
		}
		rows = append(rows, row)
	}
	return rows
}

func summaryRow(order *models.Order, region string) models.OrderRow {
	payment := order.Payment
	if payment == nil {
		payment = &models.Payment{}
	}
	cancellation := CancellationType(order.Status, order.CancelReason)

	var paymentPlatform float64
	if diff := parseAmount(payment.SubTotal) - parseAmount(payment.TotalAmount); diff > 0 {
		paymentPlatform = diff
	} else {
		paymentPlatform = math.Max(parseAmount(payment.PlatformDiscount), 0)
	}

	row := baseRow(order, payment, FormatOrderID(order.ID), FormatCreateTime(order.CreateTime, region))
	row.OrderSubstatus = order.Status
	row.CancellationReturnType = cancellation
	row.Quantity = "0"
	row.SkuQuantityReturn = "0"
	row.SkuUnitOriginalPrice = "0"
	row.SkuSubtotalBeforeDiscount = "0"
	row.SkuPlatformDiscount = "0"
	row.SkuSellerDiscount = "0"
	row.SkuSubtotalAfterDiscount = "0"
	row.PaymentPlatformDiscount = formatFixed(paymentPlatform)
	row.CancelReason = order.CancelReason
	if cancellation != "" {
		row.OrderRefundAmount = orZero(payment.TotalAmount)
	}
	return row
}

func baseRow(order *models.Order, payment *models.Payment, orderID, createdTime string) models.OrderRow {
	return models.OrderRow{
		OrderID:                     orderID,
		OrderStatus:                 StatusBucket(order.Status),
		ShippingFeeAfterDiscount:    orZero(payment.ShippingFee),
		OriginalShippingFee:         orZero(payment.OriginalShippingFee),
		ShippingFeeSellerDiscount:   orZero(payment.ShippingFeeSellerDiscount),
		ShippingFeePlatformDiscount: orZero(payment.ShippingFeePlatformDiscount),
		Taxes:                       orZero(payment.Tax),
		OrderAmount:                 orZero(payment.TotalAmount),
		OrderRefundAmount:           "0",
		CreatedTime:                 createdTime,
		CancellationInitiator:       order.CancellationInitiator,
		CreateTime:                  order.CreateTime,
	}
}

func parseAmount(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// formatFixed renders two decimals, or "0" when the value is not positive.
func formatFixed(f float64) string {
	if round2(f) <= 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func formatPlain(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
