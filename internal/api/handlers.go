package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cloudretail/saga"
	"github.com/cloudretail/saga/internal/auth"
	"github.com/cloudretail/saga/internal/orders"
)

// placeOrderBody carries no user: orders are placed for the token's user.
type placeOrderBody struct {
	Items []orders.Item `json:"items"`
}

type rollbackResponse struct {
	SagaID      string          `json:"saga_id"`
	Status      saga.Status     `json:"status"`
	Compensated []saga.StepName `json:"compensated"`
	Error       string          `json:"error,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := s.health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleGraph(c *gin.Context) {
	dot, err := s.svc.Saga().Dag().ExportToDot()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/vnd.graphviz; charset=utf-8", []byte(dot))
}

func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.svc.ListProducts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (s *Server) handleGetProduct(c *gin.Context) {
	id, ok := pathID(c, "product")
	if !ok {
		return
	}

	p, err := s.svc.GetProduct(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleCreateProduct(c *gin.Context) {
	var body orders.NewProduct
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	p, err := s.svc.CreateProduct(c.Request.Context(), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	var body placeOrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	p, replayed, err := s.svc.PlaceOrder(c.Request.Context(), c.GetHeader(HeaderIdempotencyKey), orders.PlaceOrderRequest{
		UserID: principal(c).UserID,
		Items:  body.Items,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	if replayed {
		c.Header(HeaderReplayed, "true")
		c.JSON(http.StatusOK, p)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	o, ok := s.ownedOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	o, ok := s.ownedOrder(c)
	if !ok {
		return
	}

	o, err := s.svc.CancelOrder(c.Request.Context(), o.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ownedOrder loads the order named in the path if the caller may see it.
func (s *Server) ownedOrder(c *gin.Context) (orders.Order, bool) {
	id, ok := pathID(c, "order")
	if !ok {
		return orders.Order{}, false
	}

	o, err := s.svc.GetOrder(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return orders.Order{}, false
	}
	if !owns(c, o.UserID) {
		return orders.Order{}, false
	}
	return o, true
}

func (s *Server) handleListOwnOrders(c *gin.Context) {
	s.listOrders(c, principal(c).UserID)
}

func (s *Server) handleListUserOrders(c *gin.Context) {
	userID := c.Param("id")
	if !owns(c, userID) {
		return
	}
	s.listOrders(c, userID)
}

func (s *Server) listOrders(c *gin.Context, userID string) {
	list, err := s.svc.ListUserOrders(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (s *Server) handleListSagas(c *gin.Context) {
	states, err := s.svc.ListSagas(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := states[:0]
		for _, st := range states {
			if string(st.Status) == status {
				filtered = append(filtered, st)
			}
		}
		states = filtered
	}
	if states == nil {
		states = []saga.State[orders.PlaceOrderInput]{}
	}
	c.JSON(http.StatusOK, gin.H{"sagas": states})
}

func (s *Server) handleGetSaga(c *gin.Context) {
	state, err := s.svc.GetSaga(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleRollbackSaga(c *gin.Context) {
	res := s.svc.RollbackSaga(c.Request.Context(), c.Param("id"))

	body := rollbackResponse{
		SagaID:      res.SagaID,
		Status:      res.Status,
		Compensated: res.Compensated(),
	}
	if body.Compensated == nil {
		body.Compensated = []saga.StepName{}
	}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}

	c.JSON(statusFor(res.Err), body)
}

func pathID(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " id"})
		return 0, false
	}
	return id, true
}

// fail writes err with the status it maps to.
func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	body := gin.H{"error": err.Error()}
	var perr *orders.PlacementError
	if errors.As(err, &perr) {
		body["saga_id"] = perr.SagaID
		body["failed_step"] = perr.FailedStep
	}
	c.JSON(statusFor(err), body)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, orders.ErrInvalidRequest),
		errors.Is(err, auth.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, orders.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, orders.ErrProductNotFound),
		errors.Is(err, saga.ErrStateNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, saga.ErrNotRollbackable),
		errors.Is(err, saga.ErrRunInProgress),
		errors.Is(err, saga.ErrRunExists),
		errors.Is(err, orders.ErrProductExists),
		errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
