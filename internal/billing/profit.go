package billing

// InvoiceProfit computes the document's margin: each item's cost/sale
// spread plus ancillary expense margins, less the document discount.
// Items with no known cost basis contribute nothing rather than a
// fictitious full-price margin.
func InvoiceProfit(items []LineItem, discountAmount float64) float64 {
	var profit float64
	for _, it := range items {
		profit += itemProfit(it)
	}
	return profit - discountAmount
}

func itemProfit(it LineItem) float64 {
	if len(it.ComponentCosts) > 0 || len(it.Expenses) > 0 {
		var unitCost float64
		for _, c := range it.ComponentCosts {
			unitCost += c.Qty * c.UnitCost
		}
		margin := (it.Rate - unitCost) * it.Qty
		for _, e := range it.Expenses {
			margin += (e.Price - e.Cost) * it.Qty
		}
		return margin
	}
	if it.OriginalRate > 0 {
		return (it.Rate - it.OriginalRate) * it.Qty
	}
	return 0
}
