package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	// PermOperator may read state and executions.
	PermOperator Permission = "operator"
	// PermTechnician may command motion and change the tool.
	PermTechnician Permission = "technician"
	// PermAdmin may manage users and machine tokens.
	PermAdmin Permission = "admin"
)

func validPermission(p string) bool {
	switch Permission(p) {
	case PermOperator, PermTechnician, PermAdmin:
		return true
	}
	return false
}

func validRole(role string) bool {
	return validPermission(role)
}

type AuthService struct {
	store           *memoryStore
	signer          *TokenSigner
	passwordHasher  *PasswordHasher
	machineTokenGen *MachineTokenGenerator
	cfg             config.AuthConfig
	robot           string
	logger          *zap.Logger
	now             func() time.Time
}

// NewAuthService seeds users and machine tokens from cfg. Access tokens are
// bound to robot; an empty name issues unbound tokens.
func NewAuthService(cfg config.AuthConfig, robot string, logger *zap.Logger) (*AuthService, error) {
	return newAuthService(cfg, robot, NewPasswordHasher(), logger)
}

func newAuthService(cfg config.AuthConfig, robot string, hasher *PasswordHasher, logger *zap.Logger) (*AuthService, error) {
	a := &AuthService{
		store:           newMemoryStore(),
		signer:          NewTokenSigner(cfg.GetJWTSecret(), robot, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		passwordHasher:  hasher,
		machineTokenGen: NewMachineTokenGenerator(),
		cfg:             cfg,
		robot:           robot,
		logger:          logger,
		now:             time.Now,
	}

	for _, u := range cfg.Users {
		if !validRole(u.Role) {
			return nil, fmt.Errorf("user %q: unknown role %q", u.Username, u.Role)
		}
		if _, _, _, err := decodeHash(u.PasswordHash); err != nil {
			return nil, fmt.Errorf("user %q: %w", u.Username, err)
		}
		if _, err := a.store.createUser(u.Username, u.PasswordHash, u.Role, a.now()); err != nil {
			return nil, err
		}
	}

	for _, t := range cfg.MachineTokens {
		for _, p := range t.Permissions {
			if !validPermission(p) {
				return nil, fmt.Errorf("machine token %q: unknown permission %q", t.Name, p)
			}
		}
		err := a.store.addMachineToken(&MachineToken{
			ID:          uuid.NewSHA1(userNamespace, []byte("token:"+t.Name)),
			TokenHash:   t.Hash,
			Name:        t.Name,
			Permissions: t.Permissions,
			CreatedAt:   a.now(),
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Info("Auth service initialized",
		zap.String("robot", robot),
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("users", len(cfg.Users)),
		zap.Int("machine_tokens", len(cfg.MachineTokens)))
	return a, nil
}

// Enabled reports whether HTTP routes require a token.
func (a *AuthService) Enabled() bool {
	return a.cfg.Enabled
}

// AccessTokenTTL is the lifetime of issued access tokens.
func (a *AuthService) AccessTokenTTL() time.Duration {
	return a.signer.AccessTTL()
}

// LoginUser authenticates a user and returns tokens
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (accessToken, refreshToken string, err error) {
	user, err := a.store.userByName(username)
	if err != nil {
		a.logAuthEvent("user_login_failed", nil, nil, ipAddress, userAgent, false, "user not found")
		return "", "", fmt.Errorf("invalid credentials")
	}

	now := a.now()
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		a.logAuthEvent("user_login_failed", &user.ID, nil, ipAddress, userAgent, false, "account locked")
		return "", "", fmt.Errorf("account locked until %v", user.LockedUntil.Format(time.RFC3339))
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		a.store.recordFailedLogin(user.ID, a.cfg.MaxFailedLoginAttempts, a.cfg.AccountLockDuration, now)
		a.logAuthEvent("user_login_failed", &user.ID, nil, ipAddress, userAgent, false, "invalid password")
		return "", "", fmt.Errorf("invalid credentials")
	}

	accessToken, refreshToken, err = a.issueTokens(user)
	if err != nil {
		return "", "", err
	}

	a.store.recordLogin(user.ID, now)
	a.logAuthEvent("user_login_success", &user.ID, nil, ipAddress, userAgent, true, "")

	return accessToken, refreshToken, nil
}

func (a *AuthService) issueTokens(user *User) (string, string, error) {
	accessToken, err := a.signer.Sign(user)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := newRefreshSecret()
	if err != nil {
		return "", "", err
	}

	a.store.storeRefreshToken(user.ID, a.hashRefreshToken(refreshToken), a.now().Add(a.signer.RefreshTTL()))
	return accessToken, refreshToken, nil
}

// ValidateMachineToken validates a machine token and returns permissions
func (a *AuthService) ValidateMachineToken(ctx context.Context, token, ipAddress, userAgent string) ([]Permission, error) {
	if !a.machineTokenGen.ValidateTokenFormat(token) {
		return nil, fmt.Errorf("invalid token format")
	}

	machineToken, err := a.store.useMachineToken(a.machineTokenGen.HashToken(token), a.now())
	if err != nil {
		a.logAuthEvent("machine_token_failed", nil, nil, ipAddress, userAgent, false, "token not found")
		return nil, fmt.Errorf("invalid token")
	}

	a.logAuthEvent("machine_token_success", nil, &machineToken.ID, ipAddress, userAgent, true, "")

	permissions := make([]Permission, len(machineToken.Permissions))
	for i, p := range machineToken.Permissions {
		permissions[i] = Permission(p)
	}

	return permissions, nil
}

// ValidateToken validates any token (JWT or Machine Token)
func (a *AuthService) ValidateToken(ctx context.Context, token, ipAddress, userAgent string) ([]Permission, error) {
	if claims, err := a.signer.Verify(token); err == nil {
		return a.roleToPermissions(claims.Role), nil
	}

	return a.ValidateMachineToken(ctx, token, ipAddress, userAgent)
}

func (a *AuthService) roleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func (a *AuthService) hashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (a *AuthService) logAuthEvent(eventType string, userID, machineTokenID *uuid.UUID, ip, userAgent string, success bool, reason string) {
	fields := []zap.Field{
		zap.String("event", eventType),
		zap.String("robot", a.robot),
		zap.String("ip", ip),
		zap.String("user_agent", userAgent),
		zap.Bool("success", success),
	}
	if userID != nil {
		fields = append(fields, zap.String("user_id", userID.String()))
	}
	if machineTokenID != nil {
		fields = append(fields, zap.String("machine_token_id", machineTokenID.String()))
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}

	if success {
		a.logger.Info("Auth event", fields...)
	} else {
		a.logger.Warn("Auth event", fields...)
	}
}

// RefreshAccessToken rotates a refresh token and issues a new access token.
func (a *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, string, error) {
	tokenHash := a.hashRefreshToken(refreshToken)

	userID, err := a.store.lookupRefreshToken(tokenHash, a.now())
	if err != nil {
		return "", "", fmt.Errorf("invalid refresh token: %w", err)
	}

	user, err := a.store.userByID(userID)
	if err != nil {
		return "", "", fmt.Errorf("refresh token owner: %w", err)
	}

	_ = a.store.revokeRefreshToken(tokenHash)

	return a.issueTokens(user)
}

// RevokeRefreshToken revokes a refresh token
func (a *AuthService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	return a.store.revokeRefreshToken(a.hashRefreshToken(refreshToken))
}

// CreateMachineToken creates a new machine token. The plain token is only returned here.
func (a *AuthService) CreateMachineToken(ctx context.Context, name string, permissions []string, createdByUserID *uuid.UUID, metadata map[string]any) (string, *MachineToken, error) {
	for _, p := range permissions {
		if !validPermission(p) {
			return "", nil, fmt.Errorf("unknown permission %q", p)
		}
	}

	token, tokenHash, err := a.machineTokenGen.GenerateMachineToken()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}
	id, _ := a.machineTokenGen.TokenID(token)

	machineToken := &MachineToken{
		ID:              id,
		TokenHash:       tokenHash,
		Name:            name,
		Permissions:     permissions,
		CreatedAt:       a.now(),
		CreatedByUserID: createdByUserID,
		Metadata:        metadata,
	}
	if err := a.store.addMachineToken(machineToken); err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	a.logAuthEvent("machine_token_created", createdByUserID, &machineToken.ID, "", "", true, "")
	copied := *machineToken
	return token, &copied, nil
}

// ListMachineTokens returns all machine tokens (without token values)
func (a *AuthService) ListMachineTokens(ctx context.Context) ([]*MachineToken, error) {
	return a.store.listMachineTokens(), nil
}

func (a *AuthService) DeleteMachineToken(ctx context.Context, tokenID uuid.UUID) error {
	return a.store.deleteMachineToken(tokenID)
}

func (a *AuthService) UpdateMachineToken(ctx context.Context, tokenID uuid.UUID, name *string, metadata map[string]any) error {
	return a.store.updateMachineToken(tokenID, name, metadata)
}

// CreateUser creates a new user
func (a *AuthService) CreateUser(ctx context.Context, username, password, role string) (*User, error) {
	if !validRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	passwordHash, err := a.passwordHasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return a.store.createUser(username, passwordHash, role, a.now())
}

func (a *AuthService) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	return a.store.userByID(userID)
}

func (a *AuthService) ListUsers(ctx context.Context) ([]*User, error) {
	return a.store.listUsers(), nil
}

// UpdateUser updates user details
func (a *AuthService) UpdateUser(ctx context.Context, userID uuid.UUID, password *string, role *string) error {
	var passwordHash string
	if password != nil {
		hash, err := a.passwordHasher.HashPassword(*password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		passwordHash = hash
	}
	if role != nil && !validRole(*role) {
		return fmt.Errorf("unknown role %q", *role)
	}

	return a.store.updateUser(userID, func(u *User) {
		if password != nil {
			u.PasswordHash = passwordHash
		}
		if role != nil {
			u.Role = *role
		}
	})
}

func (a *AuthService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return a.store.deleteUser(userID)
}
