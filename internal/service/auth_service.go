package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"salesbot-wa-be/internal/dto"
	"salesbot-wa-be/internal/pkg/serverutils"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type IAuthService interface {
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error)
}

// authService knows a single operator account configured by environment.
type authService struct {
	user         string
	passwordHash []byte
	secret       string
	ttl          time.Duration
}

func NewAuthService(user, passwordHash, secret string, ttl time.Duration) IAuthService {
	return &authService{user: user, passwordHash: []byte(passwordHash), secret: secret, ttl: ttl}
}

func (s *authService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	if len(s.passwordHash) == 0 || s.secret == "" {
		return nil, ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.user)) == 1
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(req.Password)); err != nil || !userOK {
		return nil, ErrInvalidCredentials
	}
	token, err := serverutils.IssueToken(s.user, s.secret, s.ttl)
	if err != nil {
		return nil, err
	}
	return &dto.LoginResponse{Token: token, ExpiresAt: time.Now().Add(s.ttl)}, nil
}
