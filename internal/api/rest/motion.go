package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	_ "embed"

	"github.com/KevinKickass/OpenArmCore/internal/motion"
	"github.com/KevinKickass/OpenArmCore/internal/script"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/motion-request-v1.json
var motionRequestSchemaJSON string

const maxMoveBody = 1 << 20

type moveValidator struct {
	schema *jsonschema.Schema
}

func newMoveValidator() (*moveValidator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("motion-request-v1.json",
		strings.NewReader(motionRequestSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("motion-request-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &moveValidator{schema: schema}, nil
}

// decode validates body against the motion request schema and decodes it.
// Every failure is an InvalidCommandError.
func (v *moveValidator) decode(body []byte) (script.MotionCommand, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return script.MotionCommand{}, types.Invalid("body", "invalid JSON: %v", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return script.MotionCommand{}, types.Invalid("body", "%v", err)
	}

	var cmd script.MotionCommand
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&cmd); err != nil {
		return script.MotionCommand{}, types.Invalid("body", "%v", err)
	}
	return cmd, nil
}

// POST /api/v1/robot/move
// Blocking moves answer once the motion is terminal; non-blocking ones
// answer 202 with the running execution.
func (s *Server) move(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMoveBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MOTION_400", "Invalid request body", err.Error()))
		return
	}

	cmd, err := s.moves.decode(body)
	if err != nil {
		robotError(c, err, nil)
		return
	}
	if cmd.Kind.IsStop() {
		robotError(c, types.Invalid("kind", "use /robot/stop for %s", cmd.Kind), nil)
		return
	}

	exec, err := s.robot.Submit(c.Request.Context(), cmd)
	if err != nil {
		var details any
		if exec.ID != uuid.Nil {
			details = exec
		}
		robotError(c, err, details)
		return
	}

	status := http.StatusOK
	if !exec.State.Terminal() {
		status = http.StatusAccepted
	}
	c.JSON(status, exec)
}

// POST /api/v1/robot/stop
func (s *Server) stopMotion(c *gin.Context) {
	var req struct {
		Mode  string  `json:"mode" binding:"omitempty,oneof=joint linear"`
		Decel float64 `json:"decel" binding:"gte=0"`
	}
	// An empty body stops in joint space with the default deceleration
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("MOTION_400", "Invalid request body", err.Error()))
			return
		}
	}

	var err error
	if req.Mode == "linear" {
		err = s.robot.StopLinear(c.Request.Context(), req.Decel)
	} else {
		err = s.robot.StopJoint(c.Request.Context(), req.Decel)
	}
	if err != nil {
		robotError(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "stop sent"})
}

// GET /api/v1/executions
func (s *Server) listExecutions(c *gin.Context) {
	executions := s.robot.Executions()
	if executions == nil {
		executions = []motion.Execution{}
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions})
}

// GET /api/v1/executions/last
func (s *Server) getLastExecution(c *gin.Context) {
	exec, ok := s.robot.LastExecution()
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("EXECUTION_404", "No execution yet", nil))
		return
	}
	c.JSON(http.StatusOK, exec)
}

// GET /api/v1/executions/:id
func (s *Server) getExecution(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("EXECUTION_400", "Invalid execution ID", err.Error()))
		return
	}

	exec, ok := s.robot.Execution(id)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("EXECUTION_404", "Execution not found", nil))
		return
	}
	c.JSON(http.StatusOK, exec)
}
