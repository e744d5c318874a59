package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/Classroom/internal/adapters/signal"
	"github.com/dkeye/Classroom/internal/app/orch"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	devTokenTTL         = 12 * time.Hour
)

type handlers struct {
	orch *orch.Orchestrator
	auth core.TokenVerifier
}

func statusFor(err error) int {
	switch domain.Code(err) {
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeBadPayload:
		return http.StatusBadRequest
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"code": domain.Code(err), "error": err.Error()})
}

type tokenBody struct {
	Token string `json:"token" binding:"required"`
}

// openSession stores a verified token in the cookie session so browsers can
// open the signaling socket without putting it in the URL.
func (h *handlers) openSession(c *gin.Context) {
	var body tokenBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, errors.Join(domain.ErrBadPayload, err))
		return
	}
	user, err := h.auth.Verify(c.Request.Context(), body.Token)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s := sessions.Default(c)
	s.Set(signal.SessionTokenKey, body.Token)
	if err := s.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *handlers) closeSession(c *gin.Context) {
	s := sessions.Default(c)
	s.Delete(signal.SessionTokenKey)
	if err := s.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) whoami(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

type createSessionBody struct {
	CourseID        string    `json:"courseId" binding:"required,max=64"`
	Title           string    `json:"title" binding:"required,max=200"`
	Description     string    `json:"description" binding:"max=2000"`
	ScheduledAt     time.Time `json:"scheduledAt"`
	DurationMinutes int       `json:"durationMinutes" binding:"omitempty,min=15,max=180"`
}

func (h *handlers) createSession(c *gin.Context) {
	var body createSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, errors.Join(domain.ErrBadPayload, err))
		return
	}
	meta := domain.SessionMeta{
		CourseID:    domain.CourseID(body.CourseID),
		Title:       body.Title,
		Description: body.Description,
		ScheduledAt: body.ScheduledAt,
		Duration:    time.Duration(body.DurationMinutes) * time.Minute,
	}
	s, err := h.orch.CreateSession(c.Request.Context(), currentUser(c), meta)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *handlers) sessionInfo(c *gin.Context) {
	s, ps, err := h.orch.ViewSession(c.Request.Context(), currentUser(c), domain.SessionID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s, "participants": ps})
}

func (h *handlers) roomHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithError(c, errors.Join(domain.ErrBadPayload, errors.New("limit must be a positive integer")))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	msgs, err := h.orch.RoomHistory(c.Request.Context(), currentUser(c), domain.RoomID(c.Param("id")), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type devTokenBody struct {
	ID   string `json:"id" binding:"required,max=64"`
	Name string `json:"name" binding:"max=64"`
	Role string `json:"role" binding:"required,oneof=instructor student"`
}

func devToken(issuer TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body devTokenBody
		if err := c.ShouldBindJSON(&body); err != nil {
			abortWithError(c, errors.Join(domain.ErrBadPayload, err))
			return
		}
		role, err := domain.ParseRole(body.Role)
		if err != nil {
			abortWithError(c, errors.Join(domain.ErrBadPayload, err))
			return
		}
		name := body.Name
		if name == "" {
			name = body.ID
		}
		user, err := domain.NewUser(domain.UserID(body.ID), name, role)
		if err != nil {
			abortWithError(c, errors.Join(domain.ErrBadPayload, err))
			return
		}
		token, err := issuer.Issue(*user, devTokenTTL)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	}
}
