package model

// CatalogItem is the view of a product, course or service that the cart
// and checkout need: current price, availability and active flag. Stock is
// only meaningful for products; StudentsCount only for courses.
type CatalogItem struct {
	ID            uint64
	Type          ItemType
	Name          string
	PriceCents    int64
	Stock         int
	StudentsCount int
	IsActive      bool
}
