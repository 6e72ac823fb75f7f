package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketplace-ledger/internal/fulfillment"
	"marketplace-ledger/internal/inventory"
	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/returns"
	"marketplace-ledger/internal/util"
	"marketplace-ledger/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	headerActorRole = "X-Actor-Role"
	headerActorID   = "X-Actor-ID"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	items     *fulfillment.Service
	returns   *returns.Service
	wallet    *wallet.Manager
	inventory *inventory.Manager
	deps      []Pinger
}

// NewHandler creates a new HTTP handler. deps are checked by /ready.
func NewHandler(
	items *fulfillment.Service,
	rets *returns.Service,
	wal *wallet.Manager,
	inv *inventory.Manager,
	deps ...Pinger,
) *Handler {
	return &Handler{
		items:     items,
		returns:   rets,
		wallet:    wal,
		inventory: inv,
		deps:      deps,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.placeOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/payment/capture", h.capturePayment)
		v1.POST("/orders/:id/payment/fail", h.failPayment)

		v1.POST("/order-items/:id/status", h.transitionItem)
		v1.POST("/order-items/:id/returns", h.requestReturn)

		v1.GET("/returns/:id", h.getReturn)
		v1.POST("/returns/:id/approve", h.approveReturn)
		v1.POST("/returns/:id/reject", h.rejectReturn)
		v1.POST("/returns/:id/cancel", h.cancelReturn)
		v1.POST("/returns/:id/picked-up", h.markPickedUp)
		v1.POST("/returns/:id/received", h.markReceived)
		v1.POST("/returns/:id/refund", h.processRefund)

		v1.GET("/wallets/:user_id", h.getWallet)
		v1.POST("/wallets/:user_id/deposits", h.deposit)
		v1.POST("/wallets/:user_id/withdrawals", h.requestWithdrawal)
		v1.POST("/withdrawals/:id/approve", h.approveWithdrawal)
		v1.POST("/withdrawals/:id/reject", h.rejectWithdrawal)

		v1.GET("/stores/:store_id/variants/:variant_id/stock", h.getStock)
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
	for _, dep := range h.deps {
		if err := dep.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// placeOrder handles checkout
func (h *Handler) placeOrder(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req fulfillment.PlaceOrderRequest
	if actor.Role == models.RoleCustomer {
		req.UserID = actor.ID
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	switch actor.Role {
	case models.RoleCustomer:
		if req.UserID != actor.ID {
			respondError(c, models.ErrActorNotPermitted)
			return
		}
	case models.RoleAdmin:
	default:
		respondError(c, models.ErrActorNotPermitted)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	res, err := h.items.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, items, err := h.items.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// capturePayment and failPayment are called by the payment gateway webhook relay,
// which authenticates as admin.
func (h *Handler) capturePayment(c *gin.Context) {
	h.paymentOutcome(c, h.items.CapturePayment)
}

func (h *Handler) failPayment(c *gin.Context) {
	h.paymentOutcome(c, h.items.FailPayment)
}

func (h *Handler) paymentOutcome(c *gin.Context, record func(context.Context, int64) (*fulfillment.PaymentResult, error)) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if actor.Role != models.RoleAdmin {
		respondError(c, models.ErrActorNotPermitted)
		return
	}

	res, err := record(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) transitionItem(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req fulfillment.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.ItemID = itemID
	req.Actor = actor

	res, err := h.items.TransitionItemStatus(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) requestReturn(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if actor.Role != models.RoleCustomer {
		respondError(c, models.ErrActorNotPermitted)
		return
	}

	var req returns.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.ItemID = itemID
	req.UserID = actor.ID

	ret, err := h.returns.RequestReturn(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ret)
}

func (h *Handler) getReturn(c *gin.Context) {
	returnID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ret, err := h.returns.GetReturn(c.Request.Context(), returnID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ret)
}

type approveReturnBody struct {
	DeliveryAgentID *int64 `json:"delivery_agent_id"`
}

func (h *Handler) approveReturn(c *gin.Context) {
	var body approveReturnBody
	if !optionalBody(c, &body) {
		return
	}
	h.returnAction(c, func(ctx context.Context, id int64, actor models.Actor) (*models.OrderItemReturn, error) {
		return h.returns.ApproveReturn(ctx, id, actor, body.DeliveryAgentID)
	})
}

type rejectReturnBody struct {
	Comment string `json:"comment" binding:"required"`
}

func (h *Handler) rejectReturn(c *gin.Context) {
	var body rejectReturnBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	h.returnAction(c, func(ctx context.Context, id int64, actor models.Actor) (*models.OrderItemReturn, error) {
		return h.returns.RejectReturn(ctx, id, actor, body.Comment)
	})
}

func (h *Handler) cancelReturn(c *gin.Context) {
	h.returnAction(c, h.returns.CancelReturn)
}

func (h *Handler) markPickedUp(c *gin.Context) {
	h.returnAction(c, h.returns.MarkPickedUp)
}

func (h *Handler) markReceived(c *gin.Context) {
	h.returnAction(c, h.returns.MarkReceivedBySeller)
}

func (h *Handler) processRefund(c *gin.Context) {
	h.returnAction(c, func(ctx context.Context, id int64, actor models.Actor) (*models.OrderItemReturn, error) {
		if actor.Role != models.RoleAdmin && actor.Role != models.RoleSystem {
			return nil, models.ErrActorNotPermitted
		}
		return h.returns.ProcessRefund(ctx, id)
	})
}

func (h *Handler) returnAction(c *gin.Context, fn func(context.Context, int64, models.Actor) (*models.OrderItemReturn, error)) {
	returnID, ok := pathID(c, "id")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	ret, err := fn(c.Request.Context(), returnID, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ret)
}

func (h *Handler) getWallet(c *gin.Context) {
	userID, actor, ok := h.walletOwner(c)
	if !ok {
		return
	}
	if actor.Role != models.RoleAdmin && actor.ID != userID {
		respondError(c, models.ErrActorNotPermitted)
		return
	}

	w, err := h.wallet.Balance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	txns, err := h.wallet.Transactions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":       w,
		"available":    w.Available(),
		"transactions": txns,
	})
}

type depositBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

func (h *Handler) deposit(c *gin.Context) {
	userID, actor, ok := h.walletOwner(c)
	if !ok {
		return
	}
	if actor.Role != models.RoleAdmin {
		respondError(c, models.ErrActorNotPermitted)
		return
	}

	var body depositBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if body.Description == "" {
		body.Description = "Wallet top-up"
	}

	res, err := h.wallet.Deposit(c.Request.Context(), userID, wallet.Entry{
		Amount:      body.Amount,
		Description: body.Description,
		Reference:   body.Reference,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"wallet":      res.Wallet,
		"transaction": res.Transaction,
		"duplicate":   res.Duplicate,
	})
}

type withdrawalBody struct {
	Kind    models.WithdrawalKind `json:"kind" binding:"required"`
	OwnerID int64                 `json:"owner_id"`
	Amount  decimal.Decimal       `json:"amount"`
	Note    string                `json:"note"`
}

func (h *Handler) requestWithdrawal(c *gin.Context) {
	userID, actor, ok := h.walletOwner(c)
	if !ok {
		return
	}
	if actor.Role != models.RoleAdmin && actor.ID != userID {
		respondError(c, models.ErrActorNotPermitted)
		return
	}

	var body withdrawalBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	req, err := h.wallet.CreateWithdrawalRequest(c.Request.Context(), wallet.WithdrawalInput{
		Kind:    body.Kind,
		UserID:  userID,
		OwnerID: body.OwnerID,
		Amount:  body.Amount,
		Note:    body.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

type remarkBody struct {
	Remark string `json:"remark"`
}

func (h *Handler) approveWithdrawal(c *gin.Context) {
	h.withdrawalDecision(c, h.wallet.ApproveWithdrawal)
}

func (h *Handler) rejectWithdrawal(c *gin.Context) {
	h.withdrawalDecision(c, h.wallet.RejectWithdrawal)
}

func (h *Handler) withdrawalDecision(c *gin.Context, decide func(context.Context, int64, int64, string) (*models.WithdrawalRequest, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if actor.Role != models.RoleAdmin {
		respondError(c, models.ErrActorNotPermitted)
		return
	}

	var body remarkBody
	if !optionalBody(c, &body) {
		return
	}

	req, err := decide(c.Request.Context(), id, actor.ID, body.Remark)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) getStock(c *gin.Context) {
	storeID, ok := pathID(c, "store_id")
	if !ok {
		return
	}
	variantID, ok := pathID(c, "variant_id")
	if !ok {
		return
	}

	stock, err := h.inventory.Stock(c.Request.Context(), storeID, variantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"store_id":           storeID,
		"product_variant_id": variantID,
		"stock":              stock,
	})
}

func (h *Handler) walletOwner(c *gin.Context) (int64, models.Actor, bool) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return 0, models.Actor{}, false
	}
	actor, ok := actorFrom(c)
	if !ok {
		return 0, models.Actor{}, false
	}
	return userID, actor, true
}

// actorFrom reads the caller identity set by the gateway.
func actorFrom(c *gin.Context) (models.Actor, bool) {
	role := models.ActorRole(c.GetHeader(headerActorRole))
	if !role.Valid() || role == models.RoleSystem {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Missing or invalid " + headerActorRole,
		})
		return models.Actor{}, false
	}

	var id int64
	if raw := c.GetHeader(headerActorID); raw != "" {
		var err error
		id, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid " + headerActorID,
			})
			return models.Actor{}, false
		}
	}
	if id == 0 && role != models.RoleAdmin {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Missing " + headerActorID,
		})
		return models.Actor{}, false
	}

	return models.Actor{Role: role, ID: id}, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// optionalBody binds a JSON body when one was sent.
func optionalBody(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "Invalid request body", err)
		return false
	}
	return true
}

func badRequest(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{
		"error":   models.CodeOf(err),
		"details": err.Error(),
	}
	if status == http.StatusInternalServerError {
		body["details"] = "internal error"
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindExhausted:
		return http.StatusUnprocessableEntity
	case models.KindForbidden:
		return http.StatusForbidden
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

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
