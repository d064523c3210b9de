package jwttoken

import (
	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
	authmw "redeem/pkg/platform/middleware/auth"
)

// ToMiddlewareClaims maps token claims onto what the auth middleware needs.
func ToMiddlewareClaims(claims *Claims) (*authmw.JWTClaims, error) {
	approverID, err := id.ParseApproverID(claims.Subject)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token subject is not a valid approver id")
	}
	return &authmw.JWTClaims{
		ApproverID: approverID,
		JTI:        claims.ID,
	}, nil
}

type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims)
}
