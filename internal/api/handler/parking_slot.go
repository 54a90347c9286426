package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/m3xD/parkus/internal/domain"
	"github.com/m3xD/parkus/internal/service"
)

type ParkingSlotHandler struct {
	parkingService *service.ParkingService
	logger         *zap.Logger
}

func NewParkingSlotHandler(ps *service.ParkingService, logger *zap.Logger) *ParkingSlotHandler {
	return &ParkingSlotHandler{parkingService: ps, logger: logger.Named("parking_handler")}
}

// GET /api/parking
func (h *ParkingSlotHandler) GetAllSlots(c *gin.Context) {
	slots, err := h.parkingService.ListSlots(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Error fetching parking slots")
		return
	}
	c.JSON(http.StatusOK, slots)
}

// POST /api/parking
func (h *ParkingSlotHandler) AddSlot(c *gin.Context) {
	var dto domain.AddSlotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body: " + err.Error()})
		return
	}

	slot, err := h.parkingService.AddSlot(c.Request.Context(), dto)
	if err != nil {
		h.fail(c, err, "Error creating parking slot")
		return
	}
	c.JSON(http.StatusCreated, slot)
}

// POST /api/parking/book
func (h *ParkingSlotHandler) BookSlot(c *gin.Context) {
	var dto domain.BookSlotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body: " + err.Error()})
		return
	}

	res, err := h.parkingService.BookSlot(c.Request.Context(), dto)
	if err != nil {
		h.fail(c, err, "Error booking parking slot")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "Slot booked successfully",
		"slot":           res.Slot,
		"bookingDetails": res.Details,
	})
}

// POST /api/parking/free
func (h *ParkingSlotHandler) FreeSlot(c *gin.Context) {
	var dto domain.FreeSlotDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body: " + err.Error()})
		return
	}

	res, err := h.parkingService.FreeSlot(c.Request.Context(), dto)
	if err != nil {
		h.fail(c, err, "Error freeing parking slot")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "Slot freed successfully",
		"bookingDetails": res.Receipt,
		"slot":           res.Slot,
	})
}

// POST /api/parking/ml-update
func (h *ParkingSlotHandler) UpdateSlotFromML(c *gin.Context) {
	var msg domain.MLDetectionMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid ML detection data: " + err.Error()})
		return
	}

	res, err := h.parkingService.ApplyMLDetection(c.Request.Context(), msg)
	if err != nil {
		status, message := h.classify(err, "Error updating slot from ML detection")
		c.JSON(status, gin.H{"success": false, "message": message})
		return
	}

	if res.Created {
		c.JSON(http.StatusCreated, gin.H{"success": true, "message": "New slot created from ML detection", "slot": res.Slot})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Slot updated from ML detection", "slot": res.Slot})
}

func (h *ParkingSlotHandler) fail(c *gin.Context, err error, fallback string) {
	status, message := h.classify(err, fallback)
	c.JSON(status, gin.H{"message": message})
}

// classify maps a service error to an HTTP status and a caller-safe message. Anything that is not a
// client error is logged here and reported with the route's generic message.
func (h *ParkingSlotHandler) classify(err error, fallback string) (int, string) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		switch {
		case errors.Is(svcErr.Kind, service.ErrNotFound):
			return http.StatusNotFound, svcErr.Message
		case errors.Is(svcErr.Kind, service.ErrValidation),
			errors.Is(svcErr.Kind, service.ErrConflict),
			errors.Is(svcErr.Kind, service.ErrDuplicateKey):
			return http.StatusBadRequest, svcErr.Message
		}
	}
	h.logger.Error(fallback, zap.Error(err))
	return http.StatusInternalServerError, fallback
}
