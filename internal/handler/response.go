package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
)

type errorBody struct {
	Code      errors.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	Field     string           `json:"field,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

type listResponse[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

func httpStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeInvalidTransition, errors.ErrCodeStorageConflict:
		return http.StatusConflict
	case errors.ErrCodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeDownstreamUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with the status its code maps to. Internal errors
// are logged and their detail is not returned to the caller.
func writeError(w http.ResponseWriter, r *http.Request, log *zerolog.Logger, err error) {
	body := errorBody{Code: errors.CodeOf(err), RequestID: chimw.GetReqID(r.Context())}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Field = appErr.Field
	}
	if body.Code == errors.ErrCodeInternal {
		log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", body.RequestID).Msg("Request failed")
		body.Message = "internal error"
		body.Field = ""
	}
	writeJSON(w, httpStatus(body.Code), map[string]errorBody{"error": body})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid request body")
	}
	return nil
}

// pagination reads page and page_size, defaulting to the first page of 50.
func pagination(r *http.Request) (page, pageSize, offset int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	return page, pageSize, (page - 1) * pageSize
}

func optionalQuery(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}
