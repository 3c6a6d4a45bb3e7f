package controllers

import (
	"net/http"

	"github.com/angelmondragon/inventory-service/api/responses"
	"github.com/angelmondragon/inventory-service/api/validators"
	productsvc "github.com/angelmondragon/inventory-service/internal/products"
	pkgerrors "github.com/angelmondragon/inventory-service/pkg/errors"
	"github.com/angelmondragon/inventory-service/pkg/logger"
	"github.com/angelmondragon/inventory-service/pkg/pagination"
)

// ListProducts handles GET /api/v1/products?ids=1,2&limit=&cursor=.
func ListProducts(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := r.URL.Query()
		result, err := svc.ListProducts(r.Context(), productsvc.ListProductsInput{
			IDs: validators.ParseIDList(query.Get("ids")),
			Pagination: pagination.Params{
				Limit:  limit,
				Cursor: query.Get("cursor"),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// GetInventory handles GET /api/v1/inventory/{productID}.
func GetInventory(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}

		productID, err := validators.ParsePathInt64(r, "productID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		inv, err := svc.GetInventory(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, inv)
	}
}
