package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/m3xD/parkus/internal/api/handler"
	"github.com/m3xD/parkus/internal/api/middleware"
	"github.com/m3xD/parkus/internal/feed"
	"github.com/m3xD/parkus/internal/service"
)

func SetupRouter(ps *service.ParkingService, hub *feed.Hub, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(logger))
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Smart Parking API is running...")
	})

	wsHandler := handler.NewWebSocketHandler(hub, logger)
	r.GET("/ws", wsHandler.HandleWebSocket)

	slotH := handler.NewParkingSlotHandler(ps, logger)
	parking := r.Group("/api/parking")
	{
		parking.GET("", slotH.GetAllSlots)
		parking.POST("", slotH.AddSlot)
		parking.POST("/book", slotH.BookSlot)
		parking.POST("/free", slotH.FreeSlot)
		parking.POST("/ml-update", slotH.UpdateSlotFromML)
	}
	return r
}
