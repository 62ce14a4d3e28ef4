package order

const EventOrderRecorded = "OrderRecorded"

// OrderRecorded is the only event of an order; orders never change afterwards.
type OrderRecorded struct {
	Order Order `json:"order"`
}
