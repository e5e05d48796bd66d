package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetstream/internal/app"
	"github.com/dkeye/meetstream/internal/domain"
)

type meetingHandlers struct {
	coord *app.Coordinator
}

func isValidation(err error) bool {
	return errors.Is(err, domain.ErrVCIDEmpty) ||
		errors.Is(err, domain.ErrMeetingIDEmpty) ||
		errors.Is(err, domain.ErrTitleTooLong) ||
		errors.Is(err, domain.ErrInvalidStatus)
}

// fail maps a coordinator error to a status code and writes the reply.
func fail(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "Meeting not found"
	case errors.Is(err, domain.ErrAlreadyExists):
		status = http.StatusConflict
	case isValidation(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg(msg)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (h *meetingHandlers) create(c *gin.Context) {
	var spec domain.MeetingSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	m, err := h.coord.Create(c.Request.Context(), spec)
	if err != nil {
		fail(c, err, "Failed to create meeting")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"meeting_id": m.ID, "vc_id": m.VCID})
}

func (h *meetingHandlers) list(c *gin.Context) {
	out, err := h.coord.List(c.Request.Context())
	if err != nil {
		fail(c, err, "Failed to list meetings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": out})
}

func (h *meetingHandlers) get(c *gin.Context) {
	m, err := h.coord.Get(c.Request.Context(), domain.MeetingID(c.Param("meeting_id")))
	if err != nil {
		fail(c, err, "Meeting not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": m})
}

func (h *meetingHandlers) listByVC(c *gin.Context) {
	out, err := h.coord.ListByVC(c.Request.Context(), domain.VCID(c.Param("vc_id")))
	if err != nil {
		fail(c, err, "Failed to list meetings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": out})
}

func (h *meetingHandlers) update(c *gin.Context) {
	var m domain.Meeting
	if err := c.ShouldBindJSON(&m); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	if err := h.coord.Update(c.Request.Context(), &m); err != nil {
		fail(c, err, "Failed to update meeting")
		return
	}
	log.Info().Str("module", "adapters.http").Str("meeting_id", string(m.ID)).Msg("meeting updated")
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Meeting updated successfully"})
}

func (h *meetingHandlers) delete(c *gin.Context) {
	id := domain.MeetingID(c.Param("meeting_id"))
	if err := h.coord.Delete(c.Request.Context(), id); err != nil {
		fail(c, err, "Failed to delete meeting")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Meeting deleted successfully"})
}

func (h *meetingHandlers) status(c *gin.Context) {
	rec := h.coord.Status(c.Request.Context(), domain.MeetingID(c.Param("meeting_id")))
	c.JSON(http.StatusOK, rec)
}

func (h *meetingHandlers) connections(c *gin.Context) {
	id := domain.MeetingID(c.Param("meeting_id"))
	c.JSON(http.StatusOK, gin.H{"meeting_id": id, "connections": h.coord.Connections(id)})
}

func (h *meetingHandlers) end(c *gin.Context) {
	res, err := h.coord.End(c.Request.Context(), domain.MeetingID(c.Param("meeting_id")))
	if err != nil {
		fail(c, err, "Failed to end meeting")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":           "Meeting ended and buffers cleared",
		"buffers_cleared":   res.BuffersCleared,
		"record_cleared":    res.RecordCleared,
		"meeting_completed": res.MeetingCompleted,
	})
}
