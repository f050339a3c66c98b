// controllers/reminder.go
package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"carebell-backend/models"
	"carebell-backend/repository"
	"carebell-backend/services"
	"carebell-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReminderEngine is what the HTTP surface needs from the reminder service.
type ReminderEngine interface {
	Now() time.Time
	RunCycle(ctx context.Context, now time.Time) (*services.CycleResult, error)
	FollowUp(ctx context.Context, now time.Time) (*services.FollowUpResult, error)
	Acknowledge(ctx context.Context, occurrenceID uuid.UUID, responseID string, at time.Time) (*models.ReminderOccurrence, error)
}

type ReminderController struct {
	engine ReminderEngine
	db     *gorm.DB
	logger *zap.Logger
}

func NewReminderController(engine ReminderEngine, db *gorm.DB, logger *zap.Logger) *ReminderController {
	return &ReminderController{engine: engine, db: db, logger: logger}
}

// RespondInput is the recipient's answer to a reminder.
type RespondInput struct {
	Response string `json:"response" binding:"required,oneof=taken skip confirm cancel dismiss"`
}

// RunCycle triggers one reminder cycle immediately.
func (rc *ReminderController) RunCycle(c *gin.Context) {
	result, err := rc.engine.RunCycle(c.Request.Context(), rc.engine.Now())
	if err != nil {
		rc.logger.Error("Manual reminder cycle failed", zap.Error(err))
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to run reminder cycle")
		return
	}
	c.JSON(http.StatusOK, result)
}

// FollowUp triggers one retry and escalation sweep.
func (rc *ReminderController) FollowUp(c *gin.Context) {
	result, err := rc.engine.FollowUp(c.Request.Context(), rc.engine.Now())
	if err != nil {
		rc.logger.Error("Manual follow-up failed", zap.Error(err))
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to run follow-up")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Respond records a recipient's answer to an occurrence.
func (rc *ReminderController) Respond(c *gin.Context) {
	occurrenceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid occurrence ID")
		return
	}

	var input RespondInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	occ, err := rc.engine.Acknowledge(c.Request.Context(), occurrenceID, input.Response, rc.engine.Now())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, occ)
	case errors.Is(err, repository.ErrNotFound):
		utils.RespondWithError(c, http.StatusNotFound, "Occurrence not found")
	case errors.Is(err, repository.ErrIllegalTransition):
		utils.RespondWithError(c, http.StatusConflict, "Occurrence already answered")
	case errors.Is(err, services.ErrUnknownResponse):
		utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	default:
		rc.logger.Error("Failed to record response", zap.String("occurrence_id", occurrenceID.String()), zap.Error(err))
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to record response")
	}
}

// Health reports whether the database answers.
func (rc *ReminderController) Health(c *gin.Context) {
	if rc.db != nil {
		sqlDB, err := rc.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
