package rest

import (
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/robot/status
func (s *Server) getRobotStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.robot.Status())
}

// GET /api/v1/robot/state
// Returns the raw snapshot, stale or not. The stale flag is part of the body.
func (s *Server) getRobotState(c *gin.Context) {
	c.JSON(http.StatusOK, s.robot.GetState())
}

// GET /api/v1/robot/pose
func (s *Server) getPose(c *gin.Context) {
	pose, err := s.robot.GetPose()
	if err != nil {
		robotError(c, err, nil)
		return
	}
	flange, err := s.robot.GetFlangePose()
	if err != nil {
		robotError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pose":   pose,
		"flange": flange,
		"csys":   s.robot.Csys(),
	})
}

// GET /api/v1/robot/joints
func (s *Server) getJoints(c *gin.Context) {
	joints, err := s.robot.GetJointAngles()
	if err != nil {
		robotError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"joints": joints})
}

// GET /api/v1/robot/forces
func (s *Server) getForces(c *gin.Context) {
	forces, err := s.robot.GetForces()
	if err != nil {
		robotError(c, err, nil)
		return
	}
	magnitude, err := s.robot.GetForceMagnitude()
	if err != nil {
		robotError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"forces":    forces,
		"magnitude": magnitude,
	})
}

type ioResponse struct {
	DigitalIn  []bool    `json:"digital_in"`
	DigitalOut []bool    `json:"digital_out"`
	AnalogIn   []float64 `json:"analog_in"`
}

// GET /api/v1/robot/io
func (s *Server) getIO(c *gin.Context) {
	const digitalCount = 18

	resp := ioResponse{
		DigitalIn:  make([]bool, digitalCount),
		DigitalOut: make([]bool, digitalCount),
		AnalogIn:   make([]float64, 2),
	}
	for n := 0; n < digitalCount; n++ {
		in, err := s.robot.GetDigitalIn(n)
		if err != nil {
			robotError(c, err, nil)
			return
		}
		out, err := s.robot.GetDigitalOut(n)
		if err != nil {
			robotError(c, err, nil)
			return
		}
		resp.DigitalIn[n], resp.DigitalOut[n] = in, out
	}
	for n := range resp.AnalogIn {
		v, err := s.robot.GetAnalogIn(n)
		if err != nil {
			robotError(c, err, nil)
			return
		}
		resp.AnalogIn[n] = v
	}

	c.JSON(http.StatusOK, resp)
}

// POST /api/v1/robot/io/digital/:n
func (s *Server) setDigitalOut(c *gin.Context) {
	n, ok := outputIndex(c)
	if !ok {
		return
	}
	var req struct {
		Value *bool `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ROBOT_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.robot.SetDigitalOut(c.Request.Context(), n, *req.Value); err != nil {
		robotError(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"output": n, "value": *req.Value})
}

// POST /api/v1/robot/io/analog/:n
func (s *Server) setAnalogOut(c *gin.Context) {
	n, ok := outputIndex(c)
	if !ok {
		return
	}
	var req struct {
		Value *float64 `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ROBOT_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.robot.SetAnalogOut(c.Request.Context(), n, *req.Value); err != nil {
		robotError(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"output": n, "value": *req.Value})
}

// POST /api/v1/robot/io/tool-voltage
func (s *Server) setToolVoltage(c *gin.Context) {
	var req struct {
		Volts *int `json:"volts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ROBOT_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.robot.SetToolVoltage(c.Request.Context(), *req.Volts); err != nil {
		robotError(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"volts": *req.Volts})
}

func outputIndex(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ROBOT_400", "Invalid output number", err.Error()))
		return 0, false
	}
	return n, true
}

// POST /api/v1/robot/message
func (s *Server) sendMessage(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ROBOT_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.robot.SendMessage(c.Request.Context(), req.Message); err != nil {
		robotError(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "sent"})
}

// GET /api/v1/robot/csys
func (s *Server) getCsys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"csys": s.robot.Csys()})
}

// PUT /api/v1/robot/csys
func (s *Server) setCsys(c *gin.Context) {
	var req struct {
		Csys []float64 `json:"csys" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ROBOT_400", "Invalid request body", err.Error()))
		return
	}

	csys, err := transform.PoseFromVector(req.Csys)
	if err != nil {
		robotError(c, err, nil)
		return
	}
	s.robot.SetCsys(csys)
	c.JSON(http.StatusOK, gin.H{"csys": csys})
}

// PUT /api/v1/robot/gravity
func (s *Server) setGravity(c *gin.Context) {
	var req struct {
		Direction *[3]float64 `json:"direction" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ROBOT_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.robot.SetGravity(c.Request.Context(), *req.Direction); err != nil {
		robotError(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"direction": *req.Direction})
}
