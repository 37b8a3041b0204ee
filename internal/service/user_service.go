package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"medledger/internal/model"
	"medledger/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DTOs for Request validation
type CreateUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"required"`
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      *UserResponse `json:"user"`
}

// DTO for returning User without exposing the password hash
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt string    `json:"created_at"`
}

// UserService manages the operators that act as principals of the ledger.
type UserService interface {
	CreateUser(ctx context.Context, actor Principal, req CreateUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	GetUserByID(ctx context.Context, id string) (*UserResponse, error)
	ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	// BootstrapAdmin creates the first ADMIN when no user exists yet. It is a
	// no-op once any account is present.
	BootstrapAdmin(ctx context.Context, email, password string) (bool, error)
}

type userService struct {
	repo      repository.UserRepository
	auditRepo repository.AuditRepository
	secret    []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewUserService returns a new instance of UserService
func NewUserService(repo repository.UserRepository, auditRepo repository.AuditRepository, jwtSecret string, tokenTTL time.Duration) UserService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &userService{repo: repo, auditRepo: auditRepo, secret: []byte(jwtSecret), tokenTTL: tokenTTL, now: time.Now}
}

func validRole(role string) bool {
	return role == model.RoleAdmin || role == model.RoleStaff
}

func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
}

func (s *userService) CreateUser(ctx context.Context, actor Principal, req CreateUserRequest) (*UserResponse, error) {
	user, err := s.newUser(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, newError(KindConflict, "email already exists", nil)
		}
		return nil, classify(err)
	}

	details, _ := json.Marshal(map[string]string{"email": user.Email, "role": user.Role})
	_ = s.auditRepo.Log(ctx, &model.AuditLog{
		UserID:     &actor.ID,
		Action:     model.ActionCreateUser,
		EntityID:   user.ID.String(),
		EntityName: user.Name,
		Details:    string(details),
	})
	return mapToResponse(user), nil
}

func (s *userService) newUser(ctx context.Context, req CreateUserRequest) (*model.User, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, missingField("name")
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if !validRole(role) {
		return nil, invalidField("role", "must be ADMIN or STAFF")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalidField("email", "is not a valid email address")
	}
	if len(req.Password) < 6 {
		return nil, invalidField("password", "must be at least 6 characters")
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, newError(KindConflict, "email already exists", nil)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, classify(err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return &model.User{Name: name, Email: email, Password: string(hashedPassword), Role: role}, nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	invalid := newError(KindUnauthorized, "invalid email or password", nil)

	user, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, invalid
		}
		return nil, classify(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, invalid
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &TokenResponse{Token: tokenString, ExpiresAt: expiresAt, User: mapToResponse(user)}, nil
}

func (s *userService) GetUserByID(ctx context.Context, id string) (*UserResponse, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, invalidField("id", "is not a valid id")
	}
	user, err := s.repo.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, "user not found", nil)
		}
		return nil, classify(err)
	}
	return mapToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	users, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, classify(err)
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapToResponse(&users[i]))
	}
	return responses, total, nil
}

func (s *userService) BootstrapAdmin(ctx context.Context, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}
	count, err := s.repo.Count(ctx)
	if err != nil {
		return false, classify(err)
	}
	if count > 0 {
		return false, nil
	}

	user, err := s.newUser(ctx, CreateUserRequest{Name: "Administrator", Email: email, Password: password, Role: model.RoleAdmin})
	if err != nil {
		return false, err
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return false, classify(err)
	}
	return true, nil
}
