package billing

import "fmt"

// invoiceStatuses and quotationStatuses list the legal values per type.
var invoiceStatuses = map[Status]bool{
	StatusDraft:     true,
	StatusPending:   true,
	StatusPartial:   true,
	StatusPaid:      true,
	StatusDelivered: true,
	StatusCancelled: true,
}

var quotationStatuses = map[Status]bool{
	StatusDraft:     true,
	StatusSent:      true,
	StatusAccepted:  true,
	StatusRejected:  true,
	StatusExpired:   true,
	StatusConverted: true,
}

// InitialStatus returns the status a freshly created document carries.
// Quotations start as drafts. Invoices start pending, or paid at once
// for the over-the-counter customer whose sales are pre-settled.
func InitialStatus(docType DocType, counterCustomer bool) Status {
	if docType == DocQuotation {
		return StatusDraft
	}
	if counterCustomer {
		return StatusPaid
	}
	return StatusPending
}

// PaymentStatus derives the automatic invoice status from amounts.
func PaymentStatus(total, paid float64) Status {
	const eps = 1e-9
	switch {
	case total > eps && paid >= total-eps:
		return StatusPaid
	case paid > eps:
		return StatusPartial
	default:
		return StatusPending
	}
}

// paymentDriven reports statuses that only payment mutations may set.
func paymentDriven(s Status) bool {
	return s == StatusPending || s == StatusPartial || s == StatusPaid
}

// terminal reports statuses after which no status change is accepted.
func terminal(inv *Invoice) bool {
	if inv.Type == DocQuotation {
		return inv.Status == StatusConverted
	}
	return inv.Status == StatusCancelled
}

// ValidateManualTransition enforces the legality table for a direct
// status-update request. Payment-driven invoice statuses are rejected
// outright; terminal documents reject every change; cancellation and
// conversion must go through their dedicated operations.
func ValidateManualTransition(inv *Invoice, target Status) error {
	if terminal(inv) {
		return ErrImmutableStatus
	}
	if inv.Type == DocQuotation {
		if !quotationStatuses[target] {
			return fmt.Errorf("%w: %q is not a quotation status", ErrInvalidTransition, target)
		}
		if target == StatusConverted {
			return fmt.Errorf("%w: conversion must go through convert", ErrInvalidTransition)
		}
		return nil
	}
	if !invoiceStatuses[target] {
		return fmt.Errorf("%w: %q is not an invoice status", ErrInvalidTransition, target)
	}
	if paymentDriven(target) {
		return ErrManualPaymentStatus
	}
	if target == StatusCancelled {
		return fmt.Errorf("%w: cancellation must go through cancel", ErrInvalidTransition)
	}
	// delivered is a manual annotation independent of payment state; it
	// remains legal on paid invoices, which are otherwise frozen.
	if inv.Status == StatusPaid && target != StatusDelivered {
		return ErrImmutableStatus
	}
	return nil
}

// ValidateCancel enforces the cancellation guard: any non-cancelled,
// non-fully-paid invoice state, and only with nothing paid.
func ValidateCancel(inv *Invoice) error {
	if inv.Status == StatusCancelled {
		return ErrImmutableStatus
	}
	if inv.Status == StatusPaid {
		return fmt.Errorf("%w: paid invoices cannot be cancelled", ErrInvalidTransition)
	}
	if inv.PaidAmount > 1e-9 || len(inv.Payments) > 0 {
		return ErrHasPayments
	}
	return nil
}

// ValidateDelete enforces physical deletion rules: untouched drafts and
// unconverted quotations only, with zero payments.
func ValidateDelete(inv *Invoice) error {
	if len(inv.Payments) > 0 || inv.PaidAmount > 1e-9 {
		return ErrHasPayments
	}
	if inv.Type == DocQuotation {
		if inv.ConvertedToInvoice || inv.Status == StatusConverted {
			return ErrAlreadyConverted
		}
		return nil
	}
	if inv.Status != StatusDraft {
		return ErrNotDraft
	}
	return nil
}

// ValidateConvert guards the one-way quotation conversion.
func ValidateConvert(inv *Invoice) error {
	if inv.Type != DocQuotation {
		return ErrNotQuotation
	}
	if inv.ConvertedToInvoice || inv.Status == StatusConverted {
		return ErrAlreadyConverted
	}
	return nil
}
