package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cliff-de-tech/Post-Bot/internal/domain"
	"github.com/cliff-de-tech/Post-Bot/internal/logging"
)

type connectionResponse struct {
	LinkedInConnected bool       `json:"linkedin_connected"`
	LinkedInURN       string     `json:"linkedin_urn,omitempty"`
	GitHubConnected   bool       `json:"github_connected"`
	GitHubUsername    string     `json:"github_username,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Scopes            string     `json:"scopes,omitempty"`
}

// handleConnectionStatus reports what is connected without ever reading the
// token columns.
func (s *Server) handleConnectionStatus(c echo.Context) error {
	status, err := s.accounts.ConnectionStatus(c.Request().Context(), tenantID(c))
	if err != nil {
		logging.WithUser(tenantID(c)).Error("failed to load connection status", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "credential storage unavailable"})
	}

	return c.JSON(http.StatusOK, connectionResponse{
		LinkedInConnected: status.LinkedInConnected,
		LinkedInURN:       status.SubjectURN,
		GitHubConnected:   status.GitHubConnected,
		GitHubUsername:    status.GitHubUsername,
		ExpiresAt:         status.ExpiresAt,
		Scopes:            status.Scopes,
	})
}

func (s *Server) handleDisconnect(c echo.Context) error {
	userID := tenantID(c)

	deleted, err := s.accounts.DeleteByUserID(c.Request().Context(), userID)
	if err != nil {
		logging.WithUser(userID).Error("failed to disconnect account", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "credential storage unavailable"})
	}
	if deleted {
		logging.WithUser(userID).Info("account disconnected")
	}

	return c.JSON(http.StatusOK, map[string]bool{"disconnected": deleted})
}

type saveGitHubRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// handleSaveGitHub attaches the secondary GitHub connection. Requires an
// existing LinkedIn connection to hang the credentials on.
func (s *Server) handleSaveGitHub(c echo.Context) error {
	userID := tenantID(c)

	var req saveGitHubRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Username == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "username is required"})
	}

	err := s.accounts.SaveGitHub(c.Request().Context(), userID, req.Username, req.Token)
	if errors.Is(err, domain.ErrNoCredential) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "connect LinkedIn before adding GitHub credentials"})
	}
	if err != nil {
		logging.WithUser(userID).Error("failed to save github credentials", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "credential storage unavailable"})
	}

	return c.NoContent(http.StatusNoContent)
}

// handleToken is the internal collaborator endpoint: the posting pipeline and
// the activity scanner call it to obtain a usable token or a user-actionable
// reason there is none. Expected failure states are 200s with valid=false.
func (s *Server) handleToken(c echo.Context) error {
	userID := tenantID(c)

	validate := s.validator.ValidateLinkedIn
	if c.QueryParam("provider") == "github" {
		validate = s.validator.ValidateGitHub
	}

	result, err := validate(c.Request().Context(), userID)
	if err != nil {
		logging.WithUser(userID).Error("token validation failed", "code", result.ErrorCode, "error", err)
		return c.JSON(http.StatusServiceUnavailable, result)
	}

	return c.JSON(http.StatusOK, result)
}
