package http

import "github.com/gin-gonic/gin"

func RegisterRoutes(r *gin.Engine, handler *SagaHandler) {
	orders := r.Group("/orders")
	{
		orders.POST("", handler.PlaceOrder)
		orders.GET("/:id", handler.GetOrder)
	}
	r.GET("/sagas/:id", handler.GetSaga)
	r.GET("/breakers", handler.ListBreakers)
	r.GET("/health", handler.Health)
}

func RegisterOpsRoutes(r *gin.Engine, ops *OpsHandler) {
	r.GET("/dead-letters", ops.ListDeadLetters)
	r.GET("/analytics/failures", ops.FailuresByReason)
}
