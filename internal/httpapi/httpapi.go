package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/export"
	"tillbook/backend/internal/metrics"
	"tillbook/backend/internal/sale"
	"tillbook/backend/internal/service"
	"tillbook/backend/internal/store"
)

const actorKey = "actor"

var (
	allStaff = []string{domain.RoleCashier, domain.RoleManager, domain.RoleAdmin}
	managers = []string{domain.RoleManager, domain.RoleAdmin}
)

type API struct {
	service        *service.Service
	auth           *AuthManager
	metrics        *metrics.Metrics
	logger         *zap.Logger
	allowedOrigins []string
	loginLimiter   *attemptLimiter
	pinLimiter     *attemptLimiter
}

// New wires the HTTP API. A nil recorder leaves /metrics unregistered.
func New(svc *service.Service, auth *AuthManager, recorder *metrics.Metrics, logger *zap.Logger, allowedOrigins []string) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:        svc,
		auth:           auth,
		metrics:        recorder,
		logger:         logger.Named("http"),
		allowedOrigins: allowedOrigins,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		pinLimiter:     newAttemptLimiter(8, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(
		a.requestLogger(),
		a.recovery(),
		securityHeaders(),
		corsMiddleware(a.allowedOrigins),
		limitBody(),
	)

	router.GET("/healthz", a.handleHealth)
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", a.handleLogin)

	v1.GET("/products", a.requireAuth(allStaff...), a.handleProducts)
	v1.GET("/payment-methods", a.requireAuth(allStaff...), a.handlePaymentMethods)

	v1.POST("/sales", a.requireAuth(allStaff...), a.handleCreateSale)
	v1.GET("/sales/:id", a.requireAuth(allStaff...), a.handleGetSale)

	reports := v1.Group("/reports")
	reports.GET("/x", a.requireAuth(allStaff...), a.handlePreviewReport)
	reports.POST("/z", a.requireAuth(managers...), a.handleCloseReport)
	reports.GET("/z", a.requireAuth(allStaff...), a.handleListReports)
	reports.GET("/z/:id", a.requireAuth(allStaff...), a.handleGetReport)

	return router
}

func (a *API) requireAuth(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.abortError(c, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.abortError(c, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.abortError(c, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		c.Set(actorKey, actor)
		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(c *gin.Context) {
	if !a.loginLimiter.Allow(c.ClientIP()) {
		a.writeError(c, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeBindError(c, err)
		return
	}

	resp, err := a.auth.Login(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) || errors.Is(err, errInactiveAccount) {
			a.writeError(c, http.StatusUnauthorized, err)
			return
		}
		a.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleProducts serves the register's lookup box: q (or query) searches
// name, SKU and barcode; sku and barcode match exactly, as a scanner sends them.
func (a *API) handleProducts(c *gin.Context) {
	query := c.Query("query")
	if strings.TrimSpace(query) == "" {
		query = c.Query("q")
	}
	products, err := a.service.ListProducts(c.Request.Context(), store.ProductFilter{
		Query:   query,
		SKU:     c.Query("sku"),
		Barcode: c.Query("barcode"),
		Limit:   parsePositiveLimit(c.Query("limit"), store.MaxProductPage, store.MaxProductPage),
	})
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (a *API) handlePaymentMethods(c *gin.Context) {
	methods, err := a.service.ListPaymentMethods(c.Request.Context())
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_methods": methods})
}

func (a *API) handleCreateSale(c *gin.Context) {
	var req domain.CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeBindError(c, err)
		return
	}

	actor := currentActor(c)
	if actor.Role == domain.RoleCashier && req.HasPriceOverride() {
		if !a.pinLimiter.Allow(c.ClientIP()) {
			a.writeError(c, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		approver, ok := a.auth.ValidateManagerPIN(c.Request.Context(), req.ManagerPIN)
		if !ok {
			a.logger.Warn("price override rejected",
				zap.String("cashier", actor.Username),
				zap.String("terminal_id", req.TerminalID),
			)
			a.writeError(c, http.StatusForbidden, service.ErrManagerPINRequired)
			return
		}
		a.logger.Info("price override approved",
			zap.String("cashier", actor.Username),
			zap.String("approved_by", approver.Username),
			zap.String("terminal_id", req.TerminalID),
		)
	}

	resp, err := a.service.CreateSale(c.Request.Context(), req)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (a *API) handleGetSale(c *gin.Context) {
	id, ok := a.pathID(c)
	if !ok {
		return
	}
	found, err := a.service.GetSale(c.Request.Context(), id)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (a *API) handlePreviewReport(c *gin.Context) {
	preview, err := a.service.PreviewReport(c.Request.Context(), c.Query("date"), c.Query("terminal_id"))
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (a *API) handleCloseReport(c *gin.Context) {
	var req domain.CloseReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeBindError(c, err)
		return
	}

	closed, err := a.service.CloseReport(c.Request.Context(), req.Date, req.TerminalID)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, closed)
}

func (a *API) handleListReports(c *gin.Context) {
	limit := parsePositiveLimit(c.Query("limit"), store.MaxReportPage, store.MaxReportPage)
	reports, err := a.service.ListReports(c.Request.Context(), c.Query("date"), c.Query("terminal_id"), limit)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.ReportListResponse{Reports: reports})
}

func (a *API) handleGetReport(c *gin.Context) {
	id, ok := a.pathID(c)
	if !ok {
		return
	}
	found, err := a.service.GetReport(c.Request.Context(), id)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}

	format := strings.ToLower(strings.TrimSpace(c.Query("format")))
	var (
		body        []byte
		contentType string
	)
	switch format {
	case "", "json":
		c.JSON(http.StatusOK, found)
		return
	case "csv":
		body, err = export.CSV(found)
		contentType = "text/csv; charset=utf-8"
	case "xlsx":
		body, err = export.XLSX(found)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "html":
		body, err = export.HTML(found)
		contentType = "text/html; charset=utf-8"
	default:
		a.writeError(c, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
		return
	}
	if err != nil {
		a.writeError(c, http.StatusInternalServerError, err)
		return
	}

	if format != "html" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=z-report-%d.%s", found.ID, format))
	}
	c.Data(http.StatusOK, contentType, body)
}

func (a *API) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		a.writeError(c, http.StatusBadRequest, errors.New("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func currentActor(c *gin.Context) domain.Actor {
	if value, ok := c.Get(actorKey); ok {
		if actor, ok := value.(domain.Actor); ok {
			return actor
		}
	}
	return domain.Actor{}
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service, sale and store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case sale.IsValidation(err),
		errors.Is(err, service.ErrInvalidDate),
		errors.Is(err, store.ErrInvalidSale):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrManagerPINRequired):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNothingToClose),
		errors.Is(err, store.ErrConcurrentClose):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(c *gin.Context, err error) {
	a.writeError(c, statusFor(err), err)
}

func (a *API) writeBindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		a.writeError(c, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	a.writeError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
}

func (a *API) writeError(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	// 5xx bodies stay generic; the cause goes to the log.
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.logger.Error("internal error",
			zap.Int("status", status),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	c.JSON(status, gin.H{"error": msg})
}

func (a *API) abortError(c *gin.Context, status int, err error) {
	a.writeError(c, status, err)
	c.Abort()
}
