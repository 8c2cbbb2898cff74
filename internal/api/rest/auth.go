package rest

import (
	"errors"
	"net/http"
	"slices"

	"github.com/KevinKickass/OpenArmCore/internal/auth"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries an access token bound to Robot.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
	Robot        string `json:"robot"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// CreateMachineTokenRequest registers a cell PLC or HMI. Operator is the
// default permission: read state, stop the arm.
type CreateMachineTokenRequest struct {
	Name        string         `json:"name" binding:"required"`
	Permissions []string       `json:"permissions"`
	Metadata    map[string]any `json:"metadata"`
}

type CreateMachineTokenResponse struct {
	Token       string         `json:"token"` // Only returned once!
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Permissions []string       `json:"permissions"`
	Metadata    map[string]any `json:"metadata"`
}

type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required,oneof=operator technician admin"`
}

type UpdateUserRequest struct {
	Password *string `json:"password,omitempty" binding:"omitempty,min=8"`
	Role     *string `json:"role,omitempty" binding:"omitempty,oneof=operator technician admin"`
}

// bindJSON answers 400 with code when the body does not bind.
func bindJSON(c *gin.Context, v any, code string) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(code, "Invalid request body", err.Error()))
		return false
	}
	return true
}

func paramID(c *gin.Context, code, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(code, "Invalid "+what+" ID", err.Error()))
		return uuid.Nil, false
	}
	return id, true
}

// POST /api/v1/auth/login
// Every attempt is audited with the arm it targets.
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req, "AUTH_400") {
		return
	}

	audit := []zap.Field{
		zap.String("robot", s.robot.Name()),
		zap.String("operator", req.Username),
		zap.String("client_ip", c.ClientIP()),
	}

	access, refresh, err := s.authService.LoginUser(c.Request.Context(),
		req.Username, req.Password, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		s.logger.Warn("Operator login rejected", audit...)
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid credentials", nil))
		return
	}

	s.logger.Info("Operator logged in", audit...)
	c.JSON(http.StatusOK, s.tokenResponse(access, refresh))
}

// POST /api/v1/auth/refresh
func (s *Server) refreshToken(c *gin.Context) {
	var req RefreshRequest
	if !bindJSON(c, &req, "AUTH_400") {
		return
	}

	access, refresh, err := s.authService.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid or expired refresh token", nil))
		return
	}
	c.JSON(http.StatusOK, s.tokenResponse(access, refresh))
}

func (s *Server) tokenResponse(access, refresh string) LoginResponse {
	return LoginResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.authService.AccessTokenTTL().Seconds()),
		Robot:        s.robot.Name(),
	}
}

// POST /api/v1/auth/logout
func (s *Server) logout(c *gin.Context) {
	var req RefreshRequest
	if !bindJSON(c, &req, "AUTH_400") {
		return
	}

	// Unknown tokens are already logged out
	if err := s.authService.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
		s.logger.Debug("Logout with unknown refresh token", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// GET /api/v1/auth/me
// Tells a pendant UI which arm it talks to and whether it may move it.
func (s *Server) getCurrentUser(c *gin.Context) {
	permissions := auth.GetPermissions(c)
	resp := gin.H{
		"robot":       s.robot.Name(),
		"permissions": permissions,
		"can_move":    slices.Contains(permissions, auth.PermTechnician),
		"user":        nil,
	}

	// Machine tokens and disabled auth have no user record
	if userID, ok := currentUserID(c); ok {
		user, err := s.authService.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("USER_404", "User not found", nil))
			return
		}
		resp["user"] = user
	}
	c.JSON(http.StatusOK, resp)
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// POST /api/v1/machine-tokens
func (s *Server) createMachineToken(c *gin.Context) {
	var req CreateMachineTokenRequest
	if !bindJSON(c, &req, "TOKEN_400") {
		return
	}
	if len(req.Permissions) == 0 {
		req.Permissions = []string{string(auth.PermOperator)}
	}

	var createdBy *uuid.UUID
	if id, ok := currentUserID(c); ok {
		createdBy = &id
	}

	token, mt, err := s.authService.CreateMachineToken(c.Request.Context(),
		req.Name, req.Permissions, createdBy, req.Metadata)
	if err != nil {
		s.logger.Warn("Failed to create machine token", zap.String("name", req.Name), zap.Error(err))
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("TOKEN_400", "Failed to create token", err.Error()))
		return
	}

	s.logger.Info("Machine token created",
		zap.String("robot", s.robot.Name()),
		zap.String("name", mt.Name),
		zap.Strings("permissions", mt.Permissions))
	c.JSON(http.StatusCreated, CreateMachineTokenResponse{
		Token:       token,
		ID:          mt.ID,
		Name:        mt.Name,
		Permissions: mt.Permissions,
		Metadata:    mt.Metadata,
	})
}

func (s *Server) listMachineTokens(c *gin.Context) {
	tokens, err := s.authService.ListMachineTokens(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("TOKEN_500", "Failed to list tokens", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (s *Server) deleteMachineToken(c *gin.Context) {
	id, ok := paramID(c, "TOKEN_400", "token")
	if !ok {
		return
	}
	if err := s.authService.DeleteMachineToken(c.Request.Context(), id); err != nil {
		c.JSON(notFoundOr500(err, auth.ErrMachineTokenNotFound), types.NewErrorResponse("TOKEN_500", "Failed to delete token", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token deleted"})
}

func (s *Server) updateMachineToken(c *gin.Context) {
	id, ok := paramID(c, "TOKEN_400", "token")
	if !ok {
		return
	}

	var req struct {
		Name     *string        `json:"name"`
		Metadata map[string]any `json:"metadata"`
	}
	if !bindJSON(c, &req, "TOKEN_400") {
		return
	}

	if err := s.authService.UpdateMachineToken(c.Request.Context(), id, req.Name, req.Metadata); err != nil {
		c.JSON(notFoundOr500(err, auth.ErrMachineTokenNotFound), types.NewErrorResponse("TOKEN_500", "Failed to update token", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token updated"})
}

// POST /api/v1/users
func (s *Server) createUser(c *gin.Context) {
	var req CreateUserRequest
	if !bindJSON(c, &req, "USER_400") {
		return
	}

	user, err := s.authService.CreateUser(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("USER_409", "Failed to create user", err.Error()))
		return
	}

	s.logger.Info("Operator account created",
		zap.String("robot", s.robot.Name()),
		zap.String("operator", user.Username),
		zap.String("role", user.Role))
	c.JSON(http.StatusCreated, user)
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.authService.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("USER_500", "Failed to list users", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) updateUser(c *gin.Context) {
	id, ok := paramID(c, "USER_400", "user")
	if !ok {
		return
	}

	var req UpdateUserRequest
	if !bindJSON(c, &req, "USER_400") {
		return
	}

	if err := s.authService.UpdateUser(c.Request.Context(), id, req.Password, req.Role); err != nil {
		c.JSON(notFoundOr500(err, auth.ErrUserNotFound), types.NewErrorResponse("USER_500", "Failed to update user", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user updated"})
}

func (s *Server) deleteUser(c *gin.Context) {
	id, ok := paramID(c, "USER_400", "user")
	if !ok {
		return
	}
	if err := s.authService.DeleteUser(c.Request.Context(), id); err != nil {
		c.JSON(notFoundOr500(err, auth.ErrUserNotFound), types.NewErrorResponse("USER_500", "Failed to delete user", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

func notFoundOr500(err, notFound error) int {
	if errors.Is(err, notFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
