package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 所有接口都返回 HTTP 200，业务结果放在 code 里
// 银行回调依赖这一点：任何结果都不能让上游重试
const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeTooManyReq    = 429
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeOrderNotFound      = 1001
	CodeTradeNotFound      = 1002
	CodeBalanceNotEnough   = 1003
	CodeAlreadyResolved    = 1004
	CodeAccountNotFound    = 1005
	CodeUnknownRecipient   = 1006
	CodeSelfTransfer       = 1007
	CodeEmailTaken         = 1008
	CodeInvalidCredentials = 1009
	CodeWithdrawNotFound   = 1010
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

// Abort 中间件拒绝请求时使用
func Abort(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}
