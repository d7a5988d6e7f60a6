package rankapi

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/models"
)

// PersonalFeedbackRequest is the body for POST /feedback/personal.
type PersonalFeedbackRequest struct {
	Model    string `json:"model"`
	Category string `json:"category"`
	Success  bool   `json:"success"`
}

// ContextFeedbackRequest is the body for POST /feedback/context.
type ContextFeedbackRequest struct {
	Model    string `json:"model"`
	Category string `json:"category"`
	Context  string `json:"context"`
	Success  bool   `json:"success"`
}

// CommunityFeedbackRequest is the body for POST /feedback/community.
type CommunityFeedbackRequest struct {
	Model      string  `json:"model"`
	Category   string  `json:"category"`
	Rating     float64 `json:"rating"`
	InstanceID string  `json:"instance_id"`
}

// checkCategory rejects categories outside the known set. Presence is the
// service's concern; an empty value falls through to its required check.
func checkCategory(c *echo.Context, category string) error {
	if category != "" && !models.Category(category).Valid() {
		return respondError(c, http.StatusBadRequest, codeInvalidParam,
			fmt.Sprintf("invalid category %q", category))
	}
	return nil
}

// personalFeedbackHandler handles POST /feedback/personal.
func (s *Server) personalFeedbackHandler(c *echo.Context) error {
	var req PersonalFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidBody, "invalid request body")
	}
	if err := checkCategory(c, req.Category); err != nil {
		return err
	}

	score, err := s.feedback.RecordPersonal(c.Request().Context(), req.Model, req.Category, req.Success)
	if err != nil {
		return respondServiceError(c, err)
	}
	return respondData(c, http.StatusOK, score)
}

// contextFeedbackHandler handles POST /feedback/context.
func (s *Server) contextFeedbackHandler(c *echo.Context) error {
	var req ContextFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidBody, "invalid request body")
	}
	if err := checkCategory(c, req.Category); err != nil {
		return err
	}

	score, err := s.feedback.RecordContext(c.Request().Context(), req.Model, req.Category, req.Context, req.Success)
	if err != nil {
		return respondServiceError(c, err)
	}
	return respondData(c, http.StatusOK, score)
}

// communityFeedbackHandler handles POST /feedback/community.
// Submissions are rate limited per instance per hour.
func (s *Server) communityFeedbackHandler(c *echo.Context) error {
	var req CommunityFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidBody, "invalid request body")
	}
	if err := checkCategory(c, req.Category); err != nil {
		return err
	}

	score, err := s.feedback.RecordCommunity(c.Request().Context(),
		req.Model, req.Category, req.Rating, req.InstanceID, s.cfg.CommunityHourlyLimit)
	if err != nil {
		return respondServiceError(c, err)
	}
	return respondData(c, http.StatusOK, score)
}
