package product

import "github.com/angelmondragon/inventory-service/pkg/pagination"

// ListProductsInput captures the inputs needed to page through products.
type ListProductsInput struct {
	IDs        []int64
	Pagination pagination.Params
}
