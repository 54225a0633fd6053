package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/generator"
	"github.com/fyrsmithlabs/ragd/internal/retriever"
)

// Error codes in ErrorBody.Code.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeLoaderFailed     = "loader_failed"
	CodeStoreUnavailable = "store_unavailable"
	CodeProviderFailed   = "provider_failed"
	CodeConfiguration    = "configuration_error"
	CodeTimeout          = "timeout"
	CodeInternal         = "internal_error"
)

// classify maps an error to an HTTP status and error code.
func classify(err error) (int, string) {
	var (
		httpErr *echo.HTTPError
		verrs   validator.ValidationErrors
	)
	switch {
	case errors.As(err, &httpErr):
		if httpErr.Code < http.StatusInternalServerError {
			return httpErr.Code, CodeInvalidRequest
		}
		return httpErr.Code, CodeInternal
	case errors.As(err, &verrs),
		errors.Is(err, retriever.ErrEmptyQuestion),
		errors.Is(err, generator.ErrInvalidHistory):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, errdefs.ErrLoader):
		return http.StatusUnprocessableEntity, CodeLoaderFailed
	case errors.Is(err, errdefs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	case errors.Is(err, errdefs.ErrProvider):
		if errdefs.IsRetryable(err) {
			return http.StatusServiceUnavailable, CodeProviderFailed
		}
		return http.StatusBadGateway, CodeProviderFailed
	case errors.Is(err, errdefs.ErrConfiguration):
		return http.StatusInternalServerError, CodeConfiguration
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// errorBody renders err for clients. Internal errors are not echoed.
func errorBody(err error, status int, code string) ErrorBody {
	body := ErrorBody{Code: code, Message: err.Error()}

	var (
		httpErr *echo.HTTPError
		verrs   validator.ValidationErrors
	)
	switch {
	case errors.As(err, &httpErr):
		body.Message = fmt.Sprint(httpErr.Message)
	case errors.As(err, &verrs):
		body.Message = "request validation failed"
		for _, fe := range verrs {
			body.Details = append(body.Details, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
	case code == CodeInternal:
		body.Message = http.StatusText(status)
	}
	return body
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, code := classify(err)
	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Warn(ctx, "request rejected", zap.Int("status", status), zap.Error(err))
	}

	resp := ErrorResponse{
		Error:     errorBody(err, status, code),
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		s.logger.Warn(ctx, "writing error response", zap.Error(err))
	}
}
