package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/apperr"
	"github.com/oksasatya/homekeep/internal/application"
	"github.com/oksasatya/homekeep/internal/domain/entity"
	"github.com/oksasatya/homekeep/pkg/helpers"
	"github.com/oksasatya/homekeep/pkg/response"
	"github.com/oksasatya/homekeep/pkg/validation"
)

// fail classifies err and writes the matching error response. Not-found
// results are expected and only logged at debug.
func fail(c *gin.Context, logger *logrus.Logger, err error) {
	status, msg, body := describe(err)
	if logger != nil {
		entry := logger.WithError(err).WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"category":   body.Category,
			"path":       c.FullPath(),
		})
		switch {
		case body.Suppressed:
			entry.Debug("request failed")
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		default:
			entry.Info("request failed")
		}
	}
	response.Error(c, status, msg, body)
}

func describe(err error) (int, string, response.ErrorBody) {
	switch {
	case errors.Is(err, application.ErrInvalidToken):
		return http.StatusBadRequest, "invalid or expired token", response.ErrorBody{Category: string(apperr.ValidationError), Code: "invalid_token"}
	case errors.Is(err, application.ErrUnavailable), errors.Is(err, application.ErrStorageDisabled):
		return http.StatusServiceUnavailable, err.Error(), response.ErrorBody{Category: string(apperr.Unknown)}
	case errors.Is(err, entity.ErrInvalidTheme), errors.Is(err, helpers.ErrPasswordTooLong):
		return http.StatusBadRequest, err.Error(), response.ErrorBody{Category: string(apperr.ValidationError)}
	case errors.Is(err, entity.ErrUnsupportedPreferences):
		return http.StatusConflict, "stored preferences were written by a newer app version", response.ErrorBody{Category: string(apperr.ValidationError)}
	}

	cat := apperr.Classify(err)
	body := response.ErrorBody{
		Category:   string(cat),
		Retryable:  cat.Retryable(),
		Suppressed: cat.Suppressed(),
	}
	msg := apperr.UserMessage(cat)
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Code = ae.Code
		// our own sentinels carry a message meant for the caller
		if ae.Err == nil && ae.Message != "" && cat != apperr.Unknown {
			msg = ae.Message
		}
	}
	return apperr.HTTPStatus(cat), msg, body
}

func invalidPayload(c *gin.Context, err error) {
	response.Error(c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
}

func userID(c *gin.Context) string { return c.GetString("userID") }

func clientIP(c *gin.Context) string {
	if ip := c.GetString("real_ip"); ip != "" {
		return ip
	}
	return c.ClientIP()
}
