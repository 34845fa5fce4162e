package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"salon/internal/basket"
	"salon/internal/model"
	"salon/internal/remote"
)

const sessionKey = "basket_session"

var errItemNotFound = errors.New("item not found in basket")

// session scopes basket routes by X-Basket-Session and mints an id when absent.
func session(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(remote.SessionHeader)
		if id == "" {
			id = uuid.NewString()
			c.Response().Header().Set(remote.SessionHeader, id)
		}
		c.Set(sessionKey, id)
		return next(c)
	}
}

func sessionOf(c echo.Context) string {
	s, _ := c.Get(sessionKey).(string)
	return s
}

func (s *Server) getBasket(c echo.Context) error {
	items, err := s.d.Baskets.Get(c.Request().Context(), sessionOf(c))
	if err != nil {
		s.log.Error().Err(err).Str("session", sessionOf(c)).Msg("get basket")
		// a broken basket reads as empty, same as a missing one
		return c.JSON(http.StatusOK, remote.BasketResponse{Items: []model.LineItem{}})
	}
	return s.basketJSON(c, "get", items)
}

func (s *Server) addItem(c echo.Context) error {
	var li model.LineItem
	if err := c.Bind(&li); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request payload")
	}
	t, err := model.ParseItemType(string(li.Type))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	item := model.CatalogItem{ID: li.ID, Name: li.Name, Price: li.Price, Category: li.Category, ImageURL: li.ImageURL, Icon: li.Icon}
	if err := item.Validate(); err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	items, err := s.mutate(c, func(b *basket.Basket) error {
		b.Add(item, t)
		return nil
	})
	if err != nil {
		return s.basketError(c, "add", err)
	}
	return s.basketJSON(c, "add", items)
}

func (s *Server) updateItem(c echo.Context) error {
	var req remote.UpdateRequest
	if err := c.Bind(&req); err != nil || req.ItemID == "" {
		return jsonError(c, http.StatusBadRequest, "Invalid request payload")
	}
	items, err := s.mutate(c, func(b *basket.Basket) error {
		k, ok := lookup(b, req.ItemID, req.ItemType)
		if !ok {
			return errItemNotFound
		}
		b.SetQuantity(k, req.Quantity)
		return nil
	})
	if err != nil {
		return s.basketError(c, "update", err)
	}
	return s.basketJSON(c, "update", items)
}

func (s *Server) removeItem(c echo.Context) error {
	var req remote.RemoveRequest
	if err := c.Bind(&req); err != nil || req.ItemID == "" {
		return jsonError(c, http.StatusBadRequest, "Invalid request payload")
	}
	items, err := s.mutate(c, func(b *basket.Basket) error {
		if req.ItemType != "" {
			b.Remove(model.Key{ItemID: req.ItemID, ItemType: req.ItemType})
			return nil
		}
		// no type: drop every line with this id
		for _, li := range b.Items() {
			if li.ID == req.ItemID {
				b.Remove(li.Key())
			}
		}
		return nil
	})
	if err != nil {
		return s.basketError(c, "remove", err)
	}
	return s.basketJSON(c, "remove", items)
}

func (s *Server) clearBasket(c echo.Context) error {
	items, err := s.mutate(c, func(b *basket.Basket) error {
		b.Clear()
		return nil
	})
	if err != nil {
		return s.basketError(c, "clear", err)
	}
	return s.basketJSON(c, "clear", items)
}

// mutate applies fn to the session basket inside a repository update.
func (s *Server) mutate(c echo.Context, fn func(*basket.Basket) error) ([]model.LineItem, error) {
	return s.d.Baskets.Update(c.Request().Context(), sessionOf(c), func(items []model.LineItem) ([]model.LineItem, error) {
		b := basket.New()
		b.Replace(items)
		if err := fn(b); err != nil {
			return nil, err
		}
		return b.Items(), nil
	})
}

// lookup resolves the identity key. Without a type the first line with the id wins.
func lookup(b *basket.Basket, id string, t model.ItemType) (model.Key, bool) {
	if t != "" {
		k := model.Key{ItemID: id, ItemType: t}
		_, ok := b.Get(k)
		return k, ok
	}
	for _, li := range b.Items() {
		if li.ID == id {
			return li.Key(), true
		}
	}
	return model.Key{}, false
}

func (s *Server) basketJSON(c echo.Context, op string, items []model.LineItem) error {
	s.d.Metrics.BasketOps.WithLabelValues(op).Inc()
	if items == nil {
		items = []model.LineItem{}
	}
	return c.JSON(http.StatusOK, remote.BasketResponse{Items: items})
}

func (s *Server) basketError(c echo.Context, op string, err error) error {
	if errors.Is(err, errItemNotFound) {
		return jsonError(c, http.StatusNotFound, "Item not found in basket")
	}
	s.log.Error().Err(err).Str("op", op).Str("session", sessionOf(c)).Msg("basket update failed")
	return jsonError(c, http.StatusInternalServerError, "Failed to update basket")
}
