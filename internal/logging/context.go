package logging

// OrderContext creates a logger context for order lifecycle events
func OrderContext(orderID int64, symbol, side, orderType string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"order_id":   orderID,
		"symbol":     symbol,
		"side":       side,
		"order_type": orderType,
	}).WithComponent("order")
}
