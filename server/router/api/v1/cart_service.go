package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apierrors "github.com/hrygo/shelfscan/server/internal/errors"
	"github.com/hrygo/shelfscan/store"
)

type AddCartItemRequest struct {
	ProductID string `json:"product_id"`
}

func (s *APIV1Service) currentCart(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := s.Ledger.Cart(ctx)
	if err != nil {
		return apierrors.Internal("failed to load cart", err)
	}
	total, err := s.Ledger.CartTotal(ctx)
	if err != nil {
		return apierrors.Internal("failed to load cart", err)
	}
	return c.JSON(http.StatusOK, convertCart(items, total.StringFixed(2)))
}

// GetCart returns the cart lines and total.
// GET /api/v1/cart
func (s *APIV1Service) GetCart(c echo.Context) error {
	return s.currentCart(c)
}

// AddCartItem adds a product to the cart.
// POST /api/v1/cart/items
func (s *APIV1Service) AddCartItem(c echo.Context) error {
	request := &AddCartItemRequest{}
	if err := c.Bind(request); err != nil || request.ProductID == "" {
		return apierrors.InvalidArgument("product_id is required")
	}
	ctx := c.Request().Context()
	record, err := s.Store.GetRecord(ctx, request.ProductID)
	if err != nil {
		return apierrors.Internal("failed to get product", err)
	}
	if record == nil {
		return apierrors.NotFound("product not found: " + request.ProductID)
	}
	if record.Kind != store.KindProduct {
		return apierrors.InvalidArgument("record is not a product: " + request.ProductID)
	}
	if _, err := s.Ledger.AddToCart(ctx, record); err != nil {
		return apierrors.Internal("failed to add to cart", err)
	}
	return s.currentCart(c)
}

// ClearCart empties the cart.
// DELETE /api/v1/cart
func (s *APIV1Service) ClearCart(c echo.Context) error {
	if err := s.Ledger.ClearCart(c.Request().Context()); err != nil {
		return apierrors.Internal("failed to clear cart", err)
	}
	return c.NoContent(http.StatusNoContent)
}
