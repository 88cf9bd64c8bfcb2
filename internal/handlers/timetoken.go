package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/relaydeck/relaydeck/internal/timetoken"
	"github.com/relaydeck/relaydeck/internal/util"
)

// ToCivilRequest is the body of POST /api/v1/timetoken/to-civil
type ToCivilRequest struct {
	Timetoken string `json:"timetoken" binding:"required"`
	Zone      string `json:"zone" binding:"required"`
}

// FromCivilRequest is the body of POST /api/v1/timetoken/from-civil
type FromCivilRequest struct {
	timetoken.CivilTime
}

// TimetokenToCivil converts a timetoken to wall-clock time in a zone
// POST /api/v1/timetoken/to-civil
func (h *Handlers) TimetokenToCivil(c *gin.Context) {
	var req ToCivilRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	tt, err := timetoken.Parse(req.Timetoken)
	if err != nil {
		util.RespondValidationError(c, "timetoken", err.Error())
		return
	}

	civil, err := timetoken.ToCivil(tt, req.Zone)
	if err != nil {
		util.RespondValidationError(c, "zone", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timetoken": tt,
		"civil":     civil,
	})
}

// TimetokenFromCivil converts wall-clock time in a zone to a timetoken
// POST /api/v1/timetoken/from-civil
func (h *Handlers) TimetokenFromCivil(c *gin.Context) {
	var req FromCivilRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Zone == "" {
		util.RespondValidationError(c, "zone", "zone is required")
		return
	}

	tt, err := timetoken.FromCivil(req.CivilTime)
	if err != nil {
		field := "civil"
		if strings.Contains(err.Error(), "timezone") {
			field = "zone"
		}
		util.RespondValidationError(c, field, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timetoken": tt,
		"civil":     req.CivilTime,
	})
}

// TimetokenNow returns the current time as a timetoken
// GET /api/v1/timetoken/now
func (h *Handlers) TimetokenNow(c *gin.Context) {
	now := timetoken.Now()
	c.JSON(http.StatusOK, gin.H{
		"timetoken": now,
		"unix_ms":   now.Millis(),
	})
}
