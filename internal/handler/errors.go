package handler

import (
	"errors"
	"net/http"

	"medledger/internal/middleware"
	"medledger/internal/model"
	"medledger/internal/service"
	"medledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindMedicineNotFound, service.KindBillNotFound, service.KindNotFound:
		return http.StatusNotFound
	case service.KindMedicineInactive, service.KindInsufficientStock, service.KindConflict:
		return http.StatusConflict
	case service.KindMedicineNotOnBill, service.KindOverReturn:
		return http.StatusUnprocessableEntity
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindPersistenceFailure:
		return http.StatusServiceUnavailable
	case service.KindDataIntegrity:
		return http.StatusInternalServerError
	}
	if kind.Category() == service.CategoryValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes err in the standard envelope. Infrastructure and
// integrity failures get a generic message; the ledger has already logged the
// cause.
func respondError(c *gin.Context, err error) {
	var le *service.LedgerError
	if !errors.As(err, &le) {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Internal server error"))
		return
	}

	status := statusFor(le.Kind)
	switch le.Kind.Category() {
	case service.CategoryInfrastructure:
		c.Header("Retry-After", "1")
		c.JSON(status, response.ErrorWithCode(status, string(le.Kind), "Service temporarily unavailable, please retry", nil))
	case service.CategoryIntegrity:
		c.JSON(status, response.ErrorWithCode(status, string(le.Kind), "Stored data is inconsistent; contact an administrator", nil))
	default:
		c.JSON(status, response.ErrorWithCode(status, string(le.Kind), le.Message, le.Details))
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
}

// principal reads the actor set by middleware.RequireRole.
func principal(c *gin.Context) (service.Principal, bool) {
	id, err := uuid.Parse(c.GetString(middleware.ContextUserID))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token subject"))
		return service.Principal{}, false
	}
	return service.Principal{ID: id, Role: c.GetString(middleware.ContextUserRole)}, true
}

var (
	anyRole   = []string{model.RoleAdmin, model.RoleStaff}
	adminOnly = []string{model.RoleAdmin}
)
