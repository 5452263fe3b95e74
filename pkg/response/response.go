package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// Business codes, one per service error.
const (
	CodeInvalidAmount      = 1001
	CodeInsufficientFunds  = 1002
	CodeAccountNotFound    = 1003
	CodeRecipientNotFound  = 1004
	CodeSelfTransfer       = 1005
	CodeInvalidPage        = 1006
	CodeEmailTaken         = 1007
	CodeInvalidCredentials = 1008
	CodeBusy               = 1009
	CodePersistenceFailure = 1010
)

// Response is the envelope of every API reply. Reason carries the machine
// readable error code on failures.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Reason  string      `json:"reason,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Fail writes an error envelope with the given HTTP status.
func Fail(c *gin.Context, httpStatus, code int, reason, message string) {
	c.AbortWithStatusJSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Reason:  reason,
	})
}

func ParamError(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeParamError, "invalid_input", message)
}

func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, CodeUnauthorized, "unauthorized", message)
}

func ServerError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, CodeServerError, "internal_error", message)
}
