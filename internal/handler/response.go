package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// HandleError 按错误类别返回状态码，业务错误附带原因码
func HandleError(c *gin.Context, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}

	var e *logic.Error
	if !errors.As(err, &e) {
		ErrorResponse(c, status, err.Error())
		return
	}
	c.JSON(status, Response{
		Success: false,
		Message: err.Error(),
		Data: ErrorDetail{
			Kind:   e.Kind.String(),
			Reason: e.Reason,
		},
	})
}

// StatusOf 错误类别到 HTTP 状态码
func StatusOf(err error) int {
	switch logic.KindOf(err) {
	case logic.KindValidation:
		return http.StatusBadRequest
	case logic.KindPrecondition:
		if strings.HasSuffix(logic.ReasonOf(err), "_not_found") {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case logic.KindIntegrity:
		return http.StatusConflict
	case logic.KindExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
