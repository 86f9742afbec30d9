package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Service checks the single configured operator login and issues tokens.
type Service struct {
	jwt          *JWTManager
	username     string
	passwordHash string
}

func NewService(jwt *JWTManager, username, passwordHash string) *Service {
	return &Service{
		jwt:          jwt,
		username:     strings.ToLower(strings.TrimPrefix(username, "@")),
		passwordHash: passwordHash,
	}
}

// Login returns a token when username and password match the configured
// operator. The password is always compared so both failure paths cost a
// bcrypt round.
func (s *Service) Login(username, password string) (*Token, error) {
	username = strings.ToLower(strings.TrimPrefix(username, "@"))
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passErr := ComparePassword(s.passwordHash, password)
	if !userOK || passErr != nil {
		return nil, ErrInvalidCredentials
	}
	return s.jwt.Generate(s.username)
}

// Username is the operator handle acting on admin API mutations.
func (s *Service) Username() string {
	return s.username
}

func (s *Service) JWT() *JWTManager {
	return s.jwt
}
