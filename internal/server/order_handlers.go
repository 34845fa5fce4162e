package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"salon/internal/basket"
	"salon/internal/events"
	"salon/internal/model"
	"salon/internal/remote"
)

func validateOrder(req model.OrderRequest) (model.ContactMethod, error) {
	if len(req.Items) == 0 {
		return "", errors.New("order has no items")
	}
	for _, li := range req.Items {
		if li.ID == "" || li.Quantity <= 0 || li.Price < 0 {
			return "", errors.New("order has an invalid item")
		}
		if _, err := model.ParseItemType(string(li.Type)); err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return "", errors.New("customer name is required")
	}
	if strings.TrimSpace(req.CustomerPhone) == "" {
		return "", errors.New("customer phone is required")
	}
	return model.ParseContactMethod(string(req.Method))
}

// createOrder stores an order. With an Idempotency-Key header a repeated
// request answers with the order the first one created.
func (s *Server) createOrder(c echo.Context) error {
	ctx := c.Request().Context()
	var req model.OrderRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request payload")
	}
	method, err := validateOrder(req)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	key := c.Request().Header.Get(remote.IdempotencyHeader)
	if key != "" {
		existing, fresh, err := s.d.Idempotency.Reserve(ctx, key)
		if err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("idempotency reserve")
			return jsonError(c, http.StatusInternalServerError, "Failed to create order")
		}
		if !fresh {
			if existing == "" {
				return jsonError(c, http.StatusConflict, "order with this idempotency key is in progress")
			}
			o, err := s.d.Orders.Get(ctx, existing)
			if err != nil {
				s.log.Error().Err(err).Str("key", key).Str("order", existing).Msg("idempotent replay lookup")
				return jsonError(c, http.StatusInternalServerError, "Failed to create order")
			}
			s.d.Metrics.IdempotentHits.Inc()
			return c.JSON(http.StatusCreated, o)
		}
	}

	o := model.Order{
		ID:            s.d.NewOrderID(),
		Items:         req.Items,
		Total:         basket.Total(req.Items).InexactFloat64(),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Method:        method,
		Status:        model.StatusCompleted,
		CreatedAt:     s.d.Clock().UTC(),
	}
	if err := s.d.Orders.Create(ctx, o); err != nil {
		s.log.Error().Err(err).Str("order", o.ID).Msg("create order")
		if key != "" {
			if rerr := s.d.Idempotency.Release(ctx, key); rerr != nil {
				s.log.Warn().Err(rerr).Str("key", key).Msg("idempotency release")
			}
		}
		return jsonError(c, http.StatusInternalServerError, "Failed to create order")
	}
	if key != "" {
		if err := s.d.Idempotency.Complete(ctx, key, o.ID); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("idempotency complete")
		}
	}
	s.d.Metrics.OrdersAccepted.Inc()

	if err := s.d.Publisher.Publish(ctx, events.Event{Type: events.OrderCommitted, Order: o, At: o.CreatedAt}); err != nil {
		s.d.Metrics.PublishFailures.Inc()
		s.log.Warn().Err(err).Str("order", o.ID).Msg("publish order event")
	}
	return c.JSON(http.StatusCreated, o)
}

func (s *Server) listOrders(c echo.Context) error {
	orders, err := s.d.Orders.List(c.Request().Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list orders")
		return jsonError(c, http.StatusInternalServerError, "Failed to fetch orders")
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return c.JSON(http.StatusOK, orders)
}

func (s *Server) statistics(c echo.Context) error {
	st, err := s.d.Orders.Stats(c.Request().Context())
	if err != nil {
		s.log.Error().Err(err).Msg("statistics")
		return jsonError(c, http.StatusInternalServerError, "Failed to fetch statistics")
	}
	return c.JSON(http.StatusOK, st)
}
