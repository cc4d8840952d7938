package response

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Response is the JSON envelope shared by every API endpoint.
type Response struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
	Details []any  `json:"details,omitempty"`
	Data    any    `json:"data,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var EmptyRequestBodyResponse = Response{
	Status:  StatusError,
	Error:   "Empty Request Body",
	Message: "Request body is empty. Please provide necessary data.",
}

var BadRequestResponse = Response{
	Status:  StatusError,
	Error:   "Bad Request",
	Message: "The request could not be processed. Please check your input.",
}

var ResourceNotFoundResponse = Response{
	Status:  StatusError,
	Error:   "Resource Not Found",
	Message: "The requested resource was not found.",
}

var PasswordRequiredResponse = Response{
	Status:  StatusError,
	Error:   "Password Required",
	Message: "This link is password protected. Verify the password to continue.",
}

var WrongPasswordResponse = Response{
	Status:  StatusError,
	Error:   "Wrong Password",
	Message: "Incorrect password. Please try again.",
}

var UnauthorizedResponse = Response{
	Status:  StatusError,
	Error:   "Unauthorized",
	Message: "Authentication is required to access this resource.",
}

var ForbiddenResponse = Response{
	Status:  StatusError,
	Error:   "Forbidden",
	Message: "You don't have permission to access this resource.",
}

var CodeTakenResponse = Response{
	Status:  StatusError,
	Error:   "Code Taken",
	Message: "This short code is already taken. Please choose another one.",
}

var RateLimitResponse = Response{
	Status:  StatusError,
	Error:   "Rate Limit Exceeded",
	Message: "Too many requests. Please try again later.",
}

var ServerErrorResponse = Response{
	Status:  StatusError,
	Error:   "Server Error",
	Message: "An internal server error occurred. Please try again later.",
}

func SuccessResponse(msg string, data ...any) Response {
	resp := Response{
		Status:  StatusSuccess,
		Message: msg,
	}

	if len(data) > 0 {
		resp.Data = data[0]
	}

	return resp
}

// ValidationErrorResponse builds an error envelope with one detail
// per failed field.
func ValidationErrorResponse(err error) Response {
	resp := Response{
		Status:  StatusError,
		Error:   "Validation Error",
		Message: "The request contains invalid fields.",
	}

	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		for _, fe := range vErrs {
			resp.Details = append(resp.Details, fmt.Sprintf("field %q failed on the %q rule", fe.Field(), fe.Tag()))
		}
	}

	return resp
}

func ErrorResponse(errName, msg string, details ...any) Response {
	return Response{
		Status:  StatusError,
		Error:   errName,
		Message: msg,
		Details: details,
	}
}
