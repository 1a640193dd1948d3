package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/service/history"
)

// statusForError сопоставляет доменные ошибки с HTTP-статусами.
// Порядок важен: таймаут и нехватка остатка тоже обёрнуты в ErrRegistrationFailed.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidationFailed), errors.Is(err, history.ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrReferenceNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrSaleNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRegistrationTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// messageForError возвращает клиенту текст без деталей хранилища для 5xx.
func messageForError(code int, err error) string {
	switch code {
	case http.StatusInternalServerError:
		if errors.Is(err, domain.ErrRegistrationFailed) {
			return domain.ErrRegistrationFailed.Error()
		}
		return "internal error"
	case http.StatusGatewayTimeout:
		return domain.ErrRegistrationTimeout.Error()
	default:
		return err.Error()
	}
}

func respondError(c *gin.Context, err error) {
	code := statusForError(err)
	c.AbortWithStatusJSON(code, envelope{Status: false, Message: messageForError(code, err)})
}

func respondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, envelope{Status: false, Message: message})
}

func respondOK(c *gin.Context, code int, value any) {
	c.JSON(code, envelope{Status: true, Value: value})
}
