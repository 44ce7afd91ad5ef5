package errors

import (
	"errors"
	"net/http"
)

// ErrorResponse is the JSON shape of every API error.
type ErrorResponse struct {
	Code    string                 `json:"error_code"`
	Message string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func ToHTTPStatus(err error) int {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) ErrorResponse {
	var coded *Error
	if errors.As(err, &coded) {
		msg := coded.Message
		if detailMsg, ok := coded.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
		return ErrorResponse{
			Code:    coded.Code,
			Message: msg,
			Details: coded.Details,
		}
	}

	return ErrorResponse{
		Code:    ErrInternal.Code,
		Message: ErrInternal.Message,
	}
}
