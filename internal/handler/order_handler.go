package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"water-order-bot/internal/orders"
)

// ListOrders returns all pending orders
func (h *Handlers) ListOrders(c *gin.Context) {
	list, err := h.store.ListPending(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to list pending orders")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "store_error",
			Message: "Failed to fetch orders",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]OrderResponse, 0, len(list))
	for _, o := range list {
		responses = append(responses, newOrderResponse(o))
	}

	c.JSON(http.StatusOK, OrderListResponse{Orders: responses, Count: len(responses)})
}

// GetOrder returns a specific pending order
func (h *Handlers) GetOrder(c *gin.Context) {
	order, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, orders.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Order not found",
			Code:    http.StatusNotFound,
		})
		return
	}
	if err != nil {
		h.log.WithError(err).Error("Failed to fetch pending order")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "store_error",
			Message: "Failed to fetch order",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, newOrderResponse(*order))
}

// CompleteOrder stops tracking an order. Completing an unknown order
// succeeds.
func (h *Handlers) CompleteOrder(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Complete(c.Request.Context(), id); err != nil {
		h.log.WithError(err).Error("Failed to complete pending order")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "store_error",
			Message: "Failed to complete order",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	h.log.WithField("tracking_id", id).Info("Order completed manually")
	c.JSON(http.StatusOK, gin.H{"message": "Order completed successfully"})
}
