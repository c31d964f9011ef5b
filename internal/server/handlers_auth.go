package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cliff-de-tech/Post-Bot/internal/domain"
)

const exchangeTimeout = 10 * time.Second

func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate OAuth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// handleLogin starts the authorization flow: fresh CSRF state into the cookie
// session, then a redirect to the provider.
func (s *Server) handleLogin(c echo.Context) error {
	userID := tenantID(c)

	state, err := generateOAuthState()
	if err != nil {
		slog.Error("failed to generate oauth state", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.Warn("failed to decode existing session, issuing a new one", "error", err)
	}
	session.Values[sessionKeyOAuthState] = state
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		slog.Error("failed to save oauth state session", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	return c.Redirect(http.StatusFound, s.flow.BuildAuthorizeURL(userID, state))
}

// handleCallback finishes the flow: verify state, exchange the code, report
// the stored connection. Token material never appears in the response.
func (s *Server) handleCallback(c echo.Context) error {
	userID := tenantID(c)

	if provErr := c.QueryParam("error"); provErr != "" {
		slog.Warn("authorization denied at provider", "user_id", userID, "error", provErr)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "authorization was denied"})
	}

	code := c.QueryParam("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing code parameter"})
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session"})
	}
	expectedState, ok := session.Values[sessionKeyOAuthState].(string)
	if !ok || expectedState == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing oauth state"})
	}
	if c.QueryParam("state") != expectedState {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid oauth state"})
	}
	delete(session.Values, sessionKeyOAuthState)
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		slog.Error("failed to clear oauth state session", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), exchangeTimeout)
	defer cancel()

	account, err := s.flow.ExchangeCode(ctx, userID, code)
	if errors.Is(err, domain.ErrSubjectConflict) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "this LinkedIn account is already connected to another user"})
	}
	if err != nil {
		slog.Error("code exchange failed", "user_id", userID, "error", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "failed to complete authorization with LinkedIn"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"connected":    true,
		"linkedin_urn": account.SubjectURN,
	})
}
