package enums

import "fmt"

// ProductStatus tracks whether a listed product can still be claimed.
type ProductStatus string

const (
	ProductStatusAvailable ProductStatus = "available"
	ProductStatusReserved  ProductStatus = "reserved"
	ProductStatusSold      ProductStatus = "sold"
)

var validProductStatuses = []ProductStatus{
	ProductStatusAvailable,
	ProductStatusReserved,
	ProductStatusSold,
}

// legalProductTransitions holds the only status changes a product may take:
// available -> reserved, reserved -> available (cancellation), reserved -> sold.
var legalProductTransitions = map[ProductStatus][]ProductStatus{
	ProductStatusAvailable: {ProductStatusReserved},
	ProductStatusReserved:  {ProductStatusAvailable, ProductStatusSold},
	ProductStatusSold:      {},
}

// String implements fmt.Stringer.
func (p ProductStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ProductStatus.
func (p ProductStatus) IsValid() bool {
	for _, candidate := range validProductStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether moving from the current status to next is legal.
func (p ProductStatus) CanTransitionTo(next ProductStatus) bool {
	for _, candidate := range legalProductTransitions[p] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseProductStatus converts raw input into a ProductStatus.
func ParseProductStatus(value string) (ProductStatus, error) {
	for _, candidate := range validProductStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product status %q", value)
}
