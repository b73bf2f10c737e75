package domain

import "time"

// Recalculate derives TotalAmount and ItemCount from Items.
func (c *Cart) Recalculate() {
	if c == nil {
		return
	}
	var total int64
	count := 0
	for _, item := range c.Items {
		total += item.LineTotal()
		count += item.Quantity
	}
	c.TotalAmount = total
	c.ItemCount = count
}

// FindItem returns the index of the line holding productID, or -1.
func (c Cart) FindItem(productID string) int {
	for i, item := range c.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// UpsertItem merges quantity into an existing line or appends a new one, keeping insertion order.
func (c *Cart) UpsertItem(item CartItem, now time.Time) {
	if idx := c.FindItem(item.ProductID); idx >= 0 {
		existing := c.Items[idx]
		existing.Quantity += item.Quantity
		existing.UnitPrice = item.UnitPrice
		if item.Name != "" {
			existing.Name = item.Name
		}
		c.Items[idx] = existing
	} else {
		if item.AddedAt.IsZero() {
			item.AddedAt = now
		}
		c.Items = append(c.Items, item)
	}
	c.UpdatedAt = now
	c.Recalculate()
}

// SetQuantity replaces the quantity of an existing line. It reports false when the line is absent.
func (c *Cart) SetQuantity(productID string, quantity int, now time.Time) bool {
	idx := c.FindItem(productID)
	if idx < 0 {
		return false
	}
	c.Items[idx].Quantity = quantity
	c.UpdatedAt = now
	c.Recalculate()
	return true
}

// RemoveItem drops the line for productID. It reports false when the line is absent.
func (c *Cart) RemoveItem(productID string, now time.Time) bool {
	idx := c.FindItem(productID)
	if idx < 0 {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	c.UpdatedAt = now
	c.Recalculate()
	return true
}

// Clear empties the cart.
func (c *Cart) Clear(now time.Time) {
	c.Items = nil
	c.UpdatedAt = now
	c.Recalculate()
}
