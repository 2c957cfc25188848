package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/http/api/respond"
	"github.com/mailcoach-ai/mailcoach/internal/identity"
	"github.com/mailcoach-ai/mailcoach/internal/llm"
	"github.com/mailcoach-ai/mailcoach/internal/models"
	"github.com/mailcoach-ai/mailcoach/internal/quota"
	"github.com/mailcoach-ai/mailcoach/internal/usage"
)

// ComposeHandler serves the credited generation endpoints.
type ComposeHandler struct {
	engine    *quota.Engine
	completer llm.Completer
	recorder  *usage.Recorder
}

// NewComposeHandler constructs a ComposeHandler. completer may be nil when no LLM is configured.
func NewComposeHandler(engine *quota.Engine, completer llm.Completer, recorder *usage.Recorder) *ComposeHandler {
	return &ComposeHandler{engine: engine, completer: completer, recorder: recorder}
}

// improveEmailRequest is the body sent by the browser extension.
type improveEmailRequest struct {
	Text      string `json:"text"`
	Subject   string `json:"subject"`
	UserEmail string `json:"userEmail"`
	UserName  string `json:"userName"`
	Language  string `json:"language"`
	Tone      string `json:"tone"`
}

// ImproveEmail rewrites the subject and body of a draft for the extension.
// The caller-supplied address wins over the session.
func (h *ComposeHandler) ImproveEmail(c *gin.Context) {
	var body improveEmailRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing text"})
		return
	}

	who, errIdentity := resolveIdentity(c, body.UserEmail, body.UserName, identity.CallerFirst)
	if errIdentity != nil {
		respond.Error(c, errIdentity)
		return
	}

	prompt, errPrompt := llm.BuildPrompt(llm.Request{
		Mode:          models.ModeExtension,
		OriginalEmail: body.Text,
		Subject:       body.Subject,
		Language:      body.Language,
		Tone:          body.Tone,
	})
	if errPrompt != nil {
		respond.Error(c, errPrompt)
		return
	}
	if h.completer == nil {
		respond.Error(c, llm.ErrNotConfigured)
		return
	}

	var (
		completion llm.Completion
		rewrite    llm.Rewrite
	)
	requestedAt := time.Now().UTC()
	_, errRun := h.engine.Run(c.Request.Context(), who.Email, who.Name, func(ctx context.Context) error {
		var errWork error
		if completion, errWork = h.completer.Complete(ctx, prompt); errWork != nil {
			return errWork
		}
		rewrite, errWork = llm.ParseRewrite(completion.Text)
		return errWork
	})
	if errRun != nil {
		respond.Error(c, errRun)
		return
	}

	h.recorder.Record(c.Request.Context(), usage.Record{
		AccountEmail:     who.Email,
		Mode:             prompt.Mode,
		Tone:             body.Tone,
		Language:         body.Language,
		OriginalEmail:    body.Text,
		Result:           rewrite.Body,
		Model:            completion.Model,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		Options:          map[string]any{"source": "extension", "subject": rewrite.Subject},
		RequestedAt:      requestedAt,
	})

	c.JSON(http.StatusOK, gin.H{"subject": rewrite.Subject, "body": rewrite.Body})
}

// generateEmailRequest is the body sent by the web app.
type generateEmailRequest struct {
	Mode          string `json:"mode"`
	Goal          string `json:"goal"`
	Context       string `json:"context"`
	Tone          string `json:"tone"`
	Language      string `json:"language"`
	Type          string `json:"type"`
	OriginalEmail string `json:"originalEmail"`
	Email         string `json:"email"`
	Name          string `json:"name"`
}

// Generate writes, improves or answers an e-mail for the web app.
// The session wins over any address in the body.
func (h *ComposeHandler) Generate(c *gin.Context) {
	var body generateEmailRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	who, errIdentity := resolveIdentity(c, body.Email, body.Name, identity.SessionFirst)
	if errIdentity != nil {
		respond.Error(c, errIdentity)
		return
	}

	if strings.EqualFold(strings.TrimSpace(body.Mode), models.ModeExtension) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported mode"})
		return
	}
	req := llm.Request{
		Mode:          body.Mode,
		Goal:          body.Goal,
		Context:       body.Context,
		Tone:          body.Tone,
		Language:      body.Language,
		Type:          body.Type,
		OriginalEmail: body.OriginalEmail,
	}
	prompt, errPrompt := llm.BuildPrompt(req)
	if errPrompt != nil {
		respond.Error(c, errPrompt)
		return
	}
	if h.completer == nil {
		respond.Error(c, llm.ErrNotConfigured)
		return
	}

	var completion llm.Completion
	requestedAt := time.Now().UTC()
	decision, errRun := h.engine.Run(c.Request.Context(), who.Email, who.Name, func(ctx context.Context) error {
		var errWork error
		completion, errWork = h.completer.Complete(ctx, prompt)
		return errWork
	})
	if errRun != nil {
		respond.Error(c, errRun)
		return
	}

	h.recorder.Record(c.Request.Context(), usage.Record{
		AccountEmail:     who.Email,
		Mode:             prompt.Mode,
		Type:             body.Type,
		Tone:             body.Tone,
		Language:         body.Language,
		Goal:             body.Goal,
		Context:          body.Context,
		OriginalEmail:    body.OriginalEmail,
		Result:           completion.Text,
		Model:            completion.Model,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		Options:          map[string]any{"source": "web"},
		RequestedAt:      requestedAt,
	})

	c.JSON(http.StatusOK, gin.H{
		"email": completion.Text,
		"usage": gin.H{
			"credits_used":  decision.Used,
			"credits_limit": decision.Limit,
			"remaining":     decision.Remaining,
		},
	})
}
