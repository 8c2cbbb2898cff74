package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenArmCore/internal/auth"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/tools
func (s *Server) listToolProfiles(c *gin.Context) {
	names, err := s.tools.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("TOOL_500", "Failed to list tool profiles", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": names})
}

// GET /api/v1/tools/:name
func (s *Server) getToolProfile(c *gin.Context) {
	profile, err := s.tools.Load(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("TOOL_404", "Tool profile not available", err.Error()))
		return
	}
	c.JSON(http.StatusOK, profile)
}

// GET /api/v1/robot/tool
func (s *Server) getTool(c *gin.Context) {
	c.JSON(http.StatusOK, s.robot.Tool())
}

type setToolRequest struct {
	TCP             *transform.Pose `json:"tcp"`
	Payload         *float64        `json:"payload" binding:"omitempty,gte=0"`
	CenterOfGravity *[3]float64     `json:"center_of_gravity"`
}

// PUT /api/v1/robot/tool
// Sends whichever of tcp and payload is present.
func (s *Server) setTool(c *gin.Context) {
	var req setToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("TOOL_400", "Invalid request body", err.Error()))
		return
	}
	if req.TCP == nil && req.Payload == nil {
		robotError(c, types.Invalid("tool", "tcp or payload required"), nil)
		return
	}

	ctx := c.Request.Context()
	if req.TCP != nil {
		if err := s.robot.SetTCP(ctx, *req.TCP); err != nil {
			robotError(c, err, nil)
			return
		}
	}
	if req.Payload != nil {
		if err := s.robot.SetPayload(ctx, *req.Payload, req.CenterOfGravity); err != nil {
			robotError(c, err, nil)
			return
		}
	}

	c.JSON(http.StatusOK, s.robot.Tool())
}

// POST /api/v1/robot/tool/:name
func (s *Server) applyToolProfile(c *gin.Context) {
	name := c.Param("name")
	profile, err := s.tools.Load(name)
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("TOOL_404", "Tool profile not available", err.Error()))
		return
	}

	if err := s.robot.ApplyTool(c.Request.Context(), profile.ToolConfig); err != nil {
		robotError(c, err, nil)
		return
	}

	s.logger.Info("Tool profile applied",
		zap.String("tool", name),
		zap.String("source", profile.Source),
		zap.String("by", auth.GetUsername(c)))
	c.JSON(http.StatusOK, s.robot.Tool())
}
