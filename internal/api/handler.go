package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	adminHeader = "X-Admin-Capability"
	actorHeader = "X-Actor"
)

// AdminCheck reports whether the caller holds the admin capability.
type AdminCheck func(c *gin.Context) bool

// HeaderAdminCheck trusts the capability header set by the identity proxy.
func HeaderAdminCheck(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader(adminHeader), "true")
}

// ReadinessProbe checks the backing stores.
type ReadinessProbe func(ctx context.Context) error

// Services groups the collaborators the HTTP surface calls into.
type Services struct {
	Finalizer  *service.CheckoutFinalizer
	Coupons    *service.CouponValidator
	Ledger     *service.InventoryLedger
	Reconciler *service.Reconciler
	Orders     *service.OrderService
	Payments   *service.PaymentService
}

// Handler contains HTTP handlers
type Handler struct {
	svc     Services
	isAdmin AdminCheck
	ready   ReadinessProbe
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler. A nil admin check falls back to
// HeaderAdminCheck; a nil probe always reports ready.
func NewHandler(svc Services, isAdmin AdminCheck, ready ReadinessProbe) *Handler {
	if isAdmin == nil {
		isAdmin = HeaderAdminCheck
	}
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	return &Handler{
		svc:     svc,
		isAdmin: isAdmin,
		ready:   ready,
		logger:  util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/checkout/finalize", h.finalizeCheckout)
	router.POST("/coupons/validate", h.validateCoupon)
	router.GET("/inventory/:productId", h.getInventory)
	router.GET("/orders/:orderId", h.getOrder)

	admin := router.Group("/", h.requireAdmin())
	{
		admin.POST("/coupons", h.createCoupon)
		admin.GET("/coupons/:code", h.getCoupon)

		admin.POST("/inventory/adjust", h.adjustInventory)
		admin.GET("/inventory/:productId/history", h.getInventoryHistory)
		admin.PUT("/products/:productId", h.registerProduct)

		admin.GET("/reconcile", h.traceReconciliation)
		admin.POST("/reconcile/recover", h.recoverOrder)
		admin.GET("/reconcile/degraded", h.listDegraded)
		admin.POST("/reconcile/degraded/replay", h.replayDegraded)

		admin.PATCH("/orders/:orderId/tracking", h.updateTracking)
		admin.POST("/orders/:orderId/items", h.attachItems)

		admin.GET("/payments/:paymentId", h.getPayment)
		admin.GET("/payments/:paymentId/order", h.getOrderByPayment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.ready(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.isAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin capability required"})
			return
		}
		c.Next()
	}
}

func actorOf(c *gin.Context) string {
	if actor := strings.TrimSpace(c.GetHeader(actorHeader)); actor != "" {
		return actor
	}
	return "admin"
}

// finalizeCheckout handles the post-payment checkout step
func (h *Handler) finalizeCheckout(c *gin.Context) {
	var req models.CheckoutPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.Finalizer.Finalize(c.Request.Context(), &req)
	if err != nil {
		status := statusFor(err)
		body := gin.H{
			"status":  service.StatusRejected,
			"error":   "Checkout rejected",
			"details": err.Error(),
		}
		var stockErr *models.StockError
		if errors.As(err, &stockErr) {
			body["shortfalls"] = stockErr.Shortfalls
		}
		c.JSON(status, body)
		return
	}

	if res.Status == service.StatusDegraded {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type validateCouponRequest struct {
	Code        string          `json:"code" binding:"required"`
	OrderAmount decimal.Decimal `json:"orderAmount"`
}

// validateCoupon previews a coupon against an order amount
func (h *Handler) validateCoupon(c *gin.Context) {
	var req validateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.OrderAmount.IsNegative() {
		writeError(c, models.ErrInvalidRequest, "orderAmount must not be negative")
		return
	}

	res, err := h.svc.Coupons.Validate(c.Request.Context(), req.Code, req.OrderAmount)
	if err != nil {
		writeError(c, err, "Failed to validate coupon")
		return
	}
	c.JSON(http.StatusOK, res)
}

// createCoupon handles coupon creation
func (h *Handler) createCoupon(c *gin.Context) {
	var coupon models.Coupon
	if err := c.ShouldBindJSON(&coupon); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.svc.Coupons.Create(c.Request.Context(), &coupon); err != nil {
		writeError(c, err, "Failed to create coupon")
		return
	}
	c.JSON(http.StatusCreated, coupon)
}

func (h *Handler) getCoupon(c *gin.Context) {
	coupon, err := h.svc.Coupons.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err, "Coupon not found")
		return
	}
	c.JSON(http.StatusOK, coupon)
}

type adjustInventoryRequest struct {
	ProductID string               `json:"productId" binding:"required"`
	Action    string               `json:"action" binding:"required"`
	Size      string               `json:"size"`
	Quantity  int                  `json:"quantity"`
	Sizes     []service.SizeChange `json:"sizes"`
	Reason    string               `json:"reason"`
}

// adjustInventory applies one admin stock change
func (h *Handler) adjustInventory(c *gin.Context) {
	var req adjustInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	actor := actorOf(c)
	reason := req.Reason
	if reason == "" {
		reason = "manual " + req.Action
	}

	var (
		res interface{}
		err error
	)
	switch strings.ToLower(req.Action) {
	case "increase":
		res, err = h.svc.Ledger.Increase(ctx, req.ProductID, models.Size(req.Size), req.Quantity, reason, actor)
	case "decrease":
		res, err = h.svc.Ledger.ReserveAndDecrement(ctx, req.ProductID, models.Size(req.Size), req.Quantity, reason, actor)
	case "set":
		res, err = h.svc.Ledger.SetAbsolute(ctx, req.ProductID, models.Size(req.Size), req.Quantity, reason, actor)
	case "set_all":
		res, err = h.svc.Ledger.SetAll(ctx, req.ProductID, req.Sizes, reason, actor)
	case "bulk":
		res, err = h.svc.Ledger.ApplyBulk(ctx, req.ProductID, req.Sizes, reason, actor)
	default:
		writeError(c, models.ErrInvalidRequest, "action must be increase, decrease, set, set_all or bulk")
		return
	}
	if err != nil {
		writeError(c, err, "Failed to adjust inventory")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getInventory(c *gin.Context) {
	snap, err := h.svc.Ledger.Snapshot(c.Request.Context(), c.Param("productId"))
	if err != nil {
		writeError(c, err, "Failed to load inventory")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) getInventoryHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		badRequest(c, err)
		return
	}
	history, err := h.svc.Ledger.History(c.Request.Context(), c.Param("productId"), limit)
	if err != nil {
		writeError(c, err, "Failed to load inventory history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"productId": c.Param("productId"), "history": history})
}

// registerProduct creates or updates a product's stock settings
func (h *Handler) registerProduct(c *gin.Context) {
	var inv models.ProductInventory
	if err := c.ShouldBindJSON(&inv); err != nil {
		badRequest(c, err)
		return
	}
	inv.ProductID = c.Param("productId")

	snap, err := h.svc.Ledger.RegisterProduct(c.Request.Context(), &inv, actorOf(c))
	if err != nil {
		writeError(c, err, "Failed to register product")
		return
	}
	c.JSON(http.StatusOK, snap)
}

// traceReconciliation diffs gateway payments against stored orders
func (h *Handler) traceReconciliation(c *gin.Context) {
	days, err := queryInt(c, "days", 7)
	if err != nil {
		badRequest(c, err)
		return
	}
	scope := service.TraceScope(c.DefaultQuery("scope", string(service.ScopeAll)))

	res, err := h.svc.Reconciler.Trace(c.Request.Context(), days, scope, c.Query("userEmail"))
	if err != nil {
		writeError(c, err, "Failed to trace payments")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) recoverOrder(c *gin.Context) {
	var req service.RecoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.Reconciler.Recover(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn("Order recovery failed",
			zap.String("payment_id", req.PaymentID),
			zap.String("order_id", req.OrderID),
			zap.Error(err))
		writeError(c, err, "Failed to recover order")
		return
	}

	status := http.StatusOK
	if res.Inserted {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (h *Handler) listDegraded(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		badRequest(c, err)
		return
	}
	records, err := h.svc.Reconciler.PendingDegraded(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "Failed to list degraded checkouts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "records": records})
}

func (h *Handler) replayDegraded(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		badRequest(c, err)
		return
	}
	summary, err := h.svc.Reconciler.ReplayDegraded(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "Failed to replay degraded checkouts")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.svc.Orders.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		writeError(c, err, "Order not found")
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) updateTracking(c *gin.Context) {
	var req service.TrackingUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, err := h.svc.Orders.UpdateTracking(c.Request.Context(), c.Param("orderId"), req)
	if err != nil {
		writeError(c, err, "Failed to update tracking")
		return
	}
	c.JSON(http.StatusOK, order)
}

type attachItemsRequest struct {
	ItemDetails    models.ItemDetails `json:"itemDetails" binding:"required,min=1,dive"`
	ApplyInventory bool               `json:"applyInventory"`
}

func (h *Handler) attachItems(c *gin.Context) {
	var req attachItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Reconciler.AttachProductDetails(c.Request.Context(), c.Param("orderId"), req.ItemDetails, req.ApplyInventory)
	if err != nil {
		writeError(c, err, "Failed to attach product details")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getPayment(c *gin.Context) {
	payment, err := h.svc.Payments.GetPayment(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		writeError(c, err, "Payment not found")
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) getOrderByPayment(c *gin.Context) {
	order, err := h.svc.Orders.GetOrderByPaymentID(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		writeError(c, err, "Order not found")
		return
	}
	c.JSON(http.StatusOK, order)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

func writeError(c *gin.Context, err error, msg string) {
	c.JSON(statusFor(err), gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrCouponExists),
		errors.Is(err, models.ErrPaymentNotCaptured),
		errors.Is(err, models.ErrContention),
		errors.Is(err, service.ErrReplayInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidSize),
		errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrPaymentNotFound),
		errors.Is(err, models.ErrCouponNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrPersistenceTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
