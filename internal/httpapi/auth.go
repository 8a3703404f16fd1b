package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type contextKey int

const clientContextKey contextKey = iota

func clientFrom(ctx context.Context) *catalog.Client {
	c, _ := ctx.Value(clientContextKey).(*catalog.Client)
	return c
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleToken exchanges client credentials for a bearer token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		detail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		detail(w, http.StatusBadRequest, "client_id and client_secret are required")
		return
	}

	client, err := s.store.ClientByClientID(r.Context(), req.ClientID)
	if err != nil {
		s.logger.Error("looking up client", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if client == nil || !client.IsActive {
		metrics.RequestsRejectedTotal.WithLabelValues("token", "credentials").Inc()
		detail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.HashedSecret), []byte(req.ClientSecret)); err != nil {
		metrics.RequestsRejectedTotal.WithLabelValues("token", "credentials").Inc()
		detail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	expiry := time.Duration(s.cfg.Security.JWTExpiryHours) * time.Hour
	signed, err := s.issueToken(client.ClientID, expiry)
	if err != nil {
		s.logger.Error("signing token", zap.Error(err))
		detail(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.store.TouchClientSeen(r.Context(), client.ID)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(expiry.Seconds()),
	})
}

func (s *Server) issueToken(clientID string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   clientID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.Security.JWTSecret))
}

func (s *Server) parseToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Security.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// auth resolves the bearer token (header, or ?token= for WebSocket clients)
// to an active Client and stamps last_seen.
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimPrefix(h, "Bearer ")
		} else if t := r.URL.Query().Get("token"); t != "" {
			raw = t
		}
		if raw == "" {
			detail(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		subject, err := s.parseToken(raw)
		if err != nil {
			metrics.RequestsRejectedTotal.WithLabelValues("auth", "token").Inc()
			detail(w, http.StatusUnauthorized, "invalid token")
			return
		}

		client, err := s.store.ClientByClientID(r.Context(), subject)
		if err != nil {
			s.logger.Error("resolving token subject", zap.Error(err))
			detail(w, http.StatusInternalServerError, "internal error")
			return
		}
		if client == nil || !client.IsActive {
			metrics.RequestsRejectedTotal.WithLabelValues("auth", "inactive").Inc()
			detail(w, http.StatusUnauthorized, "invalid token")
			return
		}

		s.store.TouchClientSeen(r.Context(), client.ID)
		ctx := context.WithValue(r.Context(), clientContextKey, client)
		next(w, r.WithContext(ctx))
	})
}
