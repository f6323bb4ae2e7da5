package services

import (
	"strings"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
)

// ReportedQuantity is the quantity of a product an operator said is actually present.
type ReportedQuantity struct {
	ProductID         string
	QuantityMentioned int
}

// ReconcileFromReport updates the ledger from "quantity present" reports. A product reported
// at or above its expected quantity leaves the ledger; anything lower is recorded as missing.
// Products without a report keep their entry, and reports for products the cart does not
// expect are ignored. When a product is reported twice the later report wins.
func ReconcileFromReport(expected []domain.CartItem, reports []ReportedQuantity, ledger []domain.LedgerEntry) []domain.LedgerEntry {
	items := indexCartItems(expected)

	latest := make(map[string]int, len(reports))
	order := make([]string, 0, len(reports))
	for _, report := range reports {
		id := strings.TrimSpace(report.ProductID)
		if _, ok := items[id]; !ok {
			continue
		}
		if _, seen := latest[id]; !seen {
			order = append(order, id)
		}
		latest[id] = max(report.QuantityMentioned, 0)
	}

	next := cloneLedger(ledger)
	for _, id := range order {
		item := items[id]
		mentioned := latest[id]
		if mentioned >= item.ExpectedQuantity {
			next = removeLedgerEntry(next, id)
			continue
		}
		next = upsertLedgerEntry(next, ledgerEntryFor(item, item.ExpectedQuantity-mentioned, mentioned))
	}
	return next
}

// ApplyCorrection replaces the ledger with an interpreted correction, normalised against the
// cart so that applying the same correction twice gives the same ledger.
func ApplyCorrection(expected []domain.CartItem, replacement []domain.LedgerEntry) []domain.LedgerEntry {
	items := indexCartItems(expected)
	next := make([]domain.LedgerEntry, 0, len(replacement))
	for _, entry := range replacement {
		id := strings.TrimSpace(entry.ProductID)
		item, ok := items[id]
		if !ok {
			continue
		}
		missing := min(max(entry.Missing, 0), item.ExpectedQuantity)
		if missing <= 0 {
			next = removeLedgerEntry(next, id)
			continue
		}
		next = upsertLedgerEntry(next, ledgerEntryFor(item, missing, item.ExpectedQuantity-missing))
	}
	return next
}

// AddMissing adds quantity missing units of a product to the ledger. Quantities are clamped
// so the entry never exceeds the expected quantity. Unknown products and non-positive
// quantities leave the ledger unchanged; callers validate before calling.
func AddMissing(expected []domain.CartItem, ledger []domain.LedgerEntry, productID string, quantity int) []domain.LedgerEntry {
	items := indexCartItems(expected)
	id := strings.TrimSpace(productID)
	item, ok := items[id]
	if !ok || quantity <= 0 {
		return cloneLedger(ledger)
	}

	next := cloneLedger(ledger)
	current := 0
	if idx := ledgerIndex(next, id); idx >= 0 {
		current = next[idx].Missing
	}
	missing := current + quantity
	if item.ExpectedQuantity > 0 {
		missing = min(missing, item.ExpectedQuantity)
	}
	found := max(item.ExpectedQuantity-missing, 0)
	return upsertLedgerEntry(next, ledgerEntryFor(item, missing, found))
}

func indexCartItems(items []domain.CartItem) map[string]domain.CartItem {
	out := make(map[string]domain.CartItem, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			continue
		}
		if existing, ok := out[id]; ok {
			// the same product listed twice on a cart counts as one line
			existing.ExpectedQuantity += item.ExpectedQuantity
			out[id] = existing
			continue
		}
		out[id] = item
	}
	return out
}

func ledgerEntryFor(item domain.CartItem, missing, found int) domain.LedgerEntry {
	return domain.LedgerEntry{
		ProductID:    strings.TrimSpace(item.ProductID),
		Brand:        strings.TrimSpace(item.Brand),
		Presentation: strings.TrimSpace(item.Presentation),
		Missing:      missing,
		Found:        found,
	}
}

func cloneLedger(ledger []domain.LedgerEntry) []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, len(ledger))
	copy(out, ledger)
	return out
}

func ledgerIndex(ledger []domain.LedgerEntry, productID string) int {
	for i := range ledger {
		if ledger[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func upsertLedgerEntry(ledger []domain.LedgerEntry, entry domain.LedgerEntry) []domain.LedgerEntry {
	if idx := ledgerIndex(ledger, entry.ProductID); idx >= 0 {
		ledger[idx] = entry
		return ledger
	}
	return append(ledger, entry)
}

func removeLedgerEntry(ledger []domain.LedgerEntry, productID string) []domain.LedgerEntry {
	idx := ledgerIndex(ledger, productID)
	if idx < 0 {
		return ledger
	}
	return append(ledger[:idx], ledger[idx+1:]...)
}
