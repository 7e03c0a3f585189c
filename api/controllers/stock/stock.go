package stock

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lmdrive/drive-backend/api/middleware"
	"github.com/lmdrive/drive-backend/api/responses"
	"github.com/lmdrive/drive-backend/api/validators"
	internalstock "github.com/lmdrive/drive-backend/internal/stock"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

// StockService is the ledger surface exposed over HTTP.
type StockService interface {
	Record(ctx context.Context, storeID, productID uuid.UUID) (*internalstock.Record, error)
	Summary(ctx context.Context, productID uuid.UUID) (*internalstock.Summary, error)
	SetStock(ctx context.Context, input internalstock.SetStockInput) (*internalstock.Record, error)
	Restock(ctx context.Context, storeID, productID uuid.UUID, quantity int) error
}

type setStockRequest struct {
	Quantity       *int    `json:"quantity" validate:"required,min=0"`
	ExpirationDate *string `json:"expiration_date,omitempty"`
}

type restockRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// ProductSummary totals a product's stock across every store.
func ProductSummary(svc StockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		productID, err := uuidParam(r, "productId", "product id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.Summary(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func Get(svc StockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		storeID, productID, err := storeAndProduct(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Record(r.Context(), storeID, productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// Set overwrites the stock record for a store and product. Staff may only
// manage the store named in their token, when one is present.
func Set(svc StockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		storeID, productID, err := storeAndProduct(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := requireStoreScope(r, storeID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload setStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		expiration, err := parseDate(payload.ExpirationDate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.SetStock(r.Context(), internalstock.SetStockInput{
			StoreID:        storeID,
			ProductID:      productID,
			Quantity:       *payload.Quantity,
			ExpirationDate: expiration,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// Restock adds received units to a store's stock.
func Restock(svc StockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		storeID, err := uuidParam(r, "storeId", "store id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := requireStoreScope(r, storeID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload restockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := uuid.Parse(payload.ProductID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		if err := svc.Restock(r.Context(), storeID, productID, payload.Quantity); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.Record(r.Context(), storeID, productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

func requireStoreScope(r *http.Request, storeID uuid.UUID) error {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok || id.StoreID == nil || *id.StoreID == storeID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "store outside staff scope")
}

func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.DateOnly, strings.TrimSpace(*raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "expiration_date must be YYYY-MM-DD")
	}
	return &parsed, nil
}

func storeAndProduct(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	storeID, err := uuidParam(r, "storeId", "store id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	productID, err := uuidParam(r, "productId", "product id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return storeID, productID, nil
}

func uuidParam(r *http.Request, key, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label)
	}
	return id, nil
}
