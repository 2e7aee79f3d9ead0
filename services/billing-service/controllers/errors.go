package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/services"
	apperrors "github.com/Receptionally/firewood-marketplace/services/common/errors"
	"github.com/Receptionally/firewood-marketplace/services/common/logger"
)

// toHTTPError maps billing errors onto status codes and stable error codes.
// Validation failures are surfaced verbatim; server-side failures get a
// generic message.
func toHTTPError(err error) *apperrors.Error {
	var gwErr *services.GatewayError
	switch {
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, repository.ErrSellerNotFound):
		return apperrors.WithKind(http.StatusNotFound, "NOT_FOUND", err.Error(), err)
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrInvalidOrder),
		errors.Is(err, services.ErrMissingSeller):
		return apperrors.WithKind(http.StatusBadRequest, "INVALID_REQUEST", err.Error(), err)
	case errors.Is(err, services.ErrNoPaymentMethod):
		return apperrors.WithKind(http.StatusUnprocessableEntity, "NO_PAYMENT_METHOD", "No payment method found for seller", err)
	case errors.Is(err, services.ErrCustomerNotFound):
		return apperrors.WithKind(http.StatusUnprocessableEntity, "CUSTOMER_NOT_FOUND", "Seller's payment account was not found", err)
	case errors.Is(err, services.ErrInvalidStatus):
		return apperrors.WithKind(http.StatusConflict, "INVALID_STATUS_TRANSITION", err.Error(), err)
	case errors.Is(err, services.ErrChargeInProgress):
		return apperrors.WithKind(http.StatusConflict, "CHARGE_IN_PROGRESS", "A charge for this order is already in progress", err)
	case errors.Is(err, services.ErrChargeUnrecorded):
		return apperrors.WithKind(http.StatusBadGateway, "CHARGE_UNRECORDED", "Payment was taken but could not be confirmed yet", err)
	case errors.Is(err, services.ErrOracleUnavailable):
		return apperrors.WithKind(http.StatusServiceUnavailable, "ORACLE_UNAVAILABLE", "Payment status is temporarily unavailable", err)
	case errors.Is(err, services.ErrStoreUnavailable):
		return apperrors.WithKind(http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Service unavailable", err)
	case errors.Is(err, services.ErrChargeFailed):
		return apperrors.WithKind(http.StatusInternalServerError, "CHARGE_FAILED", "Failed to process subscription charge", err)
	case errors.As(err, &gwErr):
		switch gwErr.Kind {
		case services.KindCardDeclined:
			return apperrors.WithKind(http.StatusPaymentRequired, "CARD_DECLINED", "The seller's card was declined", err)
		case services.KindProviderUnavailable:
			return apperrors.WithKind(http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "Payment provider unavailable", err)
		case services.KindTimeout:
			return apperrors.WithKind(http.StatusGatewayTimeout, "PROVIDER_TIMEOUT", "Payment provider timed out", err)
		default:
			return apperrors.WithKind(http.StatusBadGateway, "PAYMENT_FAILED", "Payment failed", err)
		}
	}
	return apperrors.Wrap(apperrors.ErrInternalServer, err)
}

// respondError attaches the mapped error for ErrorMiddleware to render.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	appErr := toHTTPError(err)
	l := logger.For(c.Request.Context(), log)
	if appErr.Code >= http.StatusInternalServerError {
		l.Error("Request failed", zap.Int("status", appErr.Code), zap.Error(err))
	} else {
		l.Warn("Request rejected", zap.Int("status", appErr.Code), zap.Error(err))
	}
	_ = c.Error(appErr)
	c.Abort()
}
