package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// userNamespace derives stable user IDs from usernames so that tokens
// survive restarts with the same config.
var userNamespace = uuid.MustParse("6f1d3c5e-2a8b-4c1e-9d47-0b6a2f1e8c31")

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrMachineTokenNotFound = errors.New("machine token not found")
)

type User struct {
	ID                  uuid.UUID  `json:"id"`
	Username            string     `json:"username"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLoginAt         *time.Time `json:"last_login_at"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
}

type MachineToken struct {
	ID              uuid.UUID      `json:"id"`
	TokenHash       string         `json:"-"`
	Name            string         `json:"name"`
	Permissions     []string       `json:"permissions"`
	CreatedAt       time.Time      `json:"created_at"`
	LastUsedAt      *time.Time     `json:"last_used_at"`
	CreatedByUserID *uuid.UUID     `json:"created_by_user_id"`
	Metadata        map[string]any `json:"metadata"`
}

type refreshToken struct {
	userID    uuid.UUID
	expiresAt time.Time
}

// memoryStore keeps accounts and tokens for the lifetime of the process.
type memoryStore struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*User
	byName        map[string]uuid.UUID
	machineTokens map[uuid.UUID]*MachineToken
	byHash        map[string]uuid.UUID
	refresh       map[string]refreshToken
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:         make(map[uuid.UUID]*User),
		byName:        make(map[string]uuid.UUID),
		machineTokens: make(map[uuid.UUID]*MachineToken),
		byHash:        make(map[string]uuid.UUID),
		refresh:       make(map[string]refreshToken),
	}
}

func (s *memoryStore) createUser(username, passwordHash, role string, now time.Time) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return nil, fmt.Errorf("user %q already exists", username)
	}
	u := &User{
		ID:           uuid.NewSHA1(userNamespace, []byte(username)),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
	}
	s.users[u.ID] = u
	s.byName[username] = u.ID
	copied := *u
	return &copied, nil
}

func (s *memoryStore) userByName(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *s.users[id]
	return &copied, nil
}

func (s *memoryStore) userByID(id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *memoryStore) listUsers() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		copied := *u
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (s *memoryStore) updateUser(id uuid.UUID, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}

func (s *memoryStore) deleteUser(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.users, id)
	delete(s.byName, u.Username)
	for hash, rt := range s.refresh {
		if rt.userID == id {
			delete(s.refresh, hash)
		}
	}
	return nil
}

// recordFailedLogin increments the counter and locks the account once max is reached.
func (s *memoryStore) recordFailedLogin(id uuid.UUID, max int, lock time.Duration, now time.Time) {
	_ = s.updateUser(id, func(u *User) {
		u.FailedLoginAttempts++
		if max > 0 && u.FailedLoginAttempts >= max {
			until := now.Add(lock)
			u.LockedUntil = &until
			u.FailedLoginAttempts = 0
		}
	})
}

func (s *memoryStore) recordLogin(id uuid.UUID, now time.Time) {
	_ = s.updateUser(id, func(u *User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		u.LastLoginAt = &now
	})
}

func (s *memoryStore) storeRefreshToken(userID uuid.UUID, hash string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[hash] = refreshToken{userID: userID, expiresAt: expiresAt}
}

func (s *memoryStore) lookupRefreshToken(hash string, now time.Time) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refresh[hash]
	if !ok {
		return uuid.Nil, fmt.Errorf("refresh token not found")
	}
	if now.After(rt.expiresAt) {
		delete(s.refresh, hash)
		return uuid.Nil, fmt.Errorf("refresh token expired")
	}
	return rt.userID, nil
}

func (s *memoryStore) revokeRefreshToken(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refresh[hash]; !ok {
		return fmt.Errorf("refresh token not found")
	}
	delete(s.refresh, hash)
	return nil
}

func (s *memoryStore) addMachineToken(t *MachineToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[t.TokenHash]; exists {
		return fmt.Errorf("machine token %q already registered", t.Name)
	}
	s.machineTokens[t.ID] = t
	s.byHash[t.TokenHash] = t.ID
	return nil
}

// useMachineToken looks a token up by hash and stamps LastUsedAt.
func (s *memoryStore) useMachineToken(hash string, now time.Time) (*MachineToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrMachineTokenNotFound
	}
	t := s.machineTokens[id]
	t.LastUsedAt = &now
	copied := *t
	return &copied, nil
}

func (s *memoryStore) listMachineTokens() []*MachineToken {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*MachineToken, 0, len(s.machineTokens))
	for _, t := range s.machineTokens {
		copied := *t
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memoryStore) updateMachineToken(id uuid.UUID, name *string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.machineTokens[id]
	if !ok {
		return ErrMachineTokenNotFound
	}
	if name != nil {
		t.Name = *name
	}
	if metadata != nil {
		t.Metadata = metadata
	}
	return nil
}

func (s *memoryStore) deleteMachineToken(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.machineTokens[id]
	if !ok {
		return ErrMachineTokenNotFound
	}
	delete(s.machineTokens, id)
	delete(s.byHash, t.TokenHash)
	return nil
}
