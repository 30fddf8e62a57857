package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Códigos de error estables para los clientes; el mensaje puede cambiar.
const (
	CodeBadRequest    = "bad_request"
	CodeNotFound      = "not_found"
	CodeUnprocessable = "unprocessable"
	CodeUnavailable   = "unavailable"
	CodeInternal      = "internal"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendSuccess envuelve el payload en {"data": ...}.
func SendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{"data": data})
}

// SendError envuelve el error en {"error": {"code", "message"}}.
func SendError(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, gin.H{
		"error": ErrorResponse{Code: code, Message: message},
	})
}

func SendBadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, CodeBadRequest, message)
}

func SendNotFound(c *gin.Context, message string) {
	SendError(c, http.StatusNotFound, CodeNotFound, message)
}

// SendUnprocessable para peticiones bien formadas que el dominio rechaza.
func SendUnprocessable(c *gin.Context, message string) {
	SendError(c, http.StatusUnprocessableEntity, CodeUnprocessable, message)
}

func SendServiceUnavailable(c *gin.Context, message string) {
	SendError(c, http.StatusServiceUnavailable, CodeUnavailable, message)
}

func SendInternalServerError(c *gin.Context, message string) {
	SendError(c, http.StatusInternalServerError, CodeInternal, message)
}
