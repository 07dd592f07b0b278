package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nitesh/factoura_service/internal/apperr"
	"github.com/nitesh/factoura_service/internal/auth"
	"github.com/nitesh/factoura_service/internal/store"
	"github.com/nitesh/factoura_service/pkg/models"
)

const minPasswordLength = 8

type SignupInput struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	WalletAddress string `json:"walletAddress"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (string, *models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.WalletAddress = strings.TrimSpace(in.WalletAddress)

	if in.Username == "" || in.Email == "" || in.Password == "" {
		return "", nil, apperr.Validation("Username, email and password are required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return "", nil, apperr.Validation("Invalid email address")
	}
	if len(in.Password) < minPasswordLength {
		return "", nil, apperr.Validation("Password must be at least %d characters", minPasswordLength)
	}
	if in.WalletAddress != "" && !common.IsHexAddress(in.WalletAddress) {
		return "", nil, apperr.Validation("Invalid wallet address")
	}

	hash, err := auth.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return "", nil, apperr.Internal("hash password", err)
	}
	u := &models.User{Username: in.Username, Email: in.Email, PasswordHash: hash, Role: models.RoleUser, WalletAddress: in.WalletAddress}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", nil, apperr.Conflict("Email is already registered")
		}
		return "", nil, storeErr(err, "User", "")
	}

	token, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return "", nil, apperr.Internal("issue token", err)
	}
	return token, u, nil
}

func (s *Service) Login(ctx context.Context, in LoginInput) (string, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return "", apperr.Validation("Email and password are required")
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.Unauthenticated("Invalid email or password")
	}
	if err != nil {
		return "", storeErr(err, "User", "")
	}

	ok, err := auth.CheckPassword(u.PasswordHash, in.Password)
	if err != nil {
		return "", apperr.Internal("check password", err)
	}
	if !ok {
		return "", apperr.Unauthenticated("Invalid email or password")
	}

	token, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return "", apperr.Internal("issue token", err)
	}
	return token, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, storeErr(err, "User", id)
	}
	return u, nil
}

// Authenticate resolves a bearer token to its claims.
func (s *Service) Authenticate(token string) (*auth.Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindUnauthenticated, Message: "Your session has expired or is invalid", Err: err}
	}
	return claims, nil
}
