package domain

// DeliveryType enumerates the fulfilment options offered on the order form.
type DeliveryType string

const (
	// DeliveryTypePickup means the customer collects the order at the shop.
	DeliveryTypePickup DeliveryType = "pickup"
	// DeliveryTypeCenter is a delivery inside the town centre.
	DeliveryTypeCenter DeliveryType = "livraison-centre"
	// DeliveryTypeOutskirts is a delivery to the surrounding area.
	DeliveryTypeOutskirts DeliveryType = "livraison-peripherie"
)

// deliverySurcharges maps each fulfilment option to its flat fee in cents.
var deliverySurcharges = map[DeliveryType]Money{
	DeliveryTypePickup:    0,
	DeliveryTypeCenter:    800,
	DeliveryTypeOutskirts: 1200,
}

// Surcharge returns the flat delivery fee for the type. The boolean is false
// for unknown types.
func (t DeliveryType) Surcharge() (Money, bool) {
	fee, ok := deliverySurcharges[t]
	return fee, ok
}

// Valid reports whether the delivery type is one of the offered options.
func (t DeliveryType) Valid() bool {
	_, ok := deliverySurcharges[t]
	return ok
}

// RequiresAddress reports whether orders with this type must carry an address.
func (t DeliveryType) RequiresAddress() bool {
	return t == DeliveryTypeCenter || t == DeliveryTypeOutskirts
}

// Pricing holds the priced totals attached to an order. TotalPrice is always
// BasePrice plus DeliveryPrice, recomputed server-side on every quote.
type Pricing struct {
	BasePrice     Money
	DeliveryPrice Money
	TotalPrice    Money
}
