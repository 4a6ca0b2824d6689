package jwttoken

import (
	"proofgate/internal/platform/middleware"
	id "proofgate/pkg/domain"
)

// MiddlewareAdapter bridges the token service to the middleware.JWTValidator
// interface, converting the string user claim into a typed ID.
type MiddlewareAdapter struct {
	service *Service
}

func NewMiddlewareAdapter(service *Service) *MiddlewareAdapter {
	return &MiddlewareAdapter{service: service}
}

func (a *MiddlewareAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{UserID: userID}, nil
}
