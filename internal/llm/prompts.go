package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mailcoach-ai/mailcoach/internal/models"
)

// ErrInvalidRequest is returned when a generation request lacks required input.
var ErrInvalidRequest = errors.New("llm: invalid request")

const systemPrompt = "You are an assistant specialised in writing professional e-mails that are clear, concise and effective."

const (
	defaultContext  = "No specific context provided."
	defaultType     = "general"
	defaultTone     = "professional but warm"
	defaultLanguage = "French"
)

// Request is the user input for one generation.
type Request struct {
	Mode          string
	Goal          string
	Context       string
	Tone          string
	Language      string
	Type          string
	OriginalEmail string
	Subject       string
}

// Prompt is a ready-to-send chat prompt.
type Prompt struct {
	Mode   string
	System string
	User   string
	// JSON asks the model for a JSON object reply.
	JSON bool
}

// Rewrite is the structured reply of an extension rewrite.
type Rewrite struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// BuildPrompt renders the prompt for req.Mode. An empty mode means generate.
func BuildPrompt(req Request) (Prompt, error) {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = models.ModeGenerate
	}
	switch mode {
	case models.ModeGenerate:
		if strings.TrimSpace(req.Goal) == "" {
			return Prompt{}, fmt.Errorf("%w: goal is required", ErrInvalidRequest)
		}
		return Prompt{Mode: mode, System: systemPrompt, User: generatePrompt(req)}, nil
	case models.ModeImprove:
		if strings.TrimSpace(req.OriginalEmail) == "" {
			return Prompt{}, fmt.Errorf("%w: originalEmail is required", ErrInvalidRequest)
		}
		return Prompt{Mode: mode, System: systemPrompt, User: improvePrompt(req)}, nil
	case models.ModeReply:
		if strings.TrimSpace(req.OriginalEmail) == "" {
			return Prompt{}, fmt.Errorf("%w: originalEmail is required", ErrInvalidRequest)
		}
		return Prompt{Mode: mode, System: systemPrompt, User: replyPrompt(req)}, nil
	case models.ModeExtension:
		if strings.TrimSpace(req.OriginalEmail) == "" {
			return Prompt{}, fmt.Errorf("%w: text is required", ErrInvalidRequest)
		}
		return Prompt{Mode: mode, System: systemPrompt, User: extensionPrompt(req), JSON: true}, nil
	default:
		return Prompt{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
}

func generatePrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context: %s\n", orDefault(req.Context, defaultContext))
	fmt.Fprintf(&b, "Goal of the e-mail: %s\n", strings.TrimSpace(req.Goal))
	fmt.Fprintf(&b, "Type of e-mail: %s\n", orDefault(req.Type, defaultType))
	fmt.Fprintf(&b, "Tone: %s\n", orDefault(req.Tone, defaultTone))
	fmt.Fprintf(&b, "Language of the e-mail: %s\n\n", orDefault(req.Language, defaultLanguage))
	b.WriteString("Write a complete e-mail, ready to be sent.")
	return b.String()
}

func improvePrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Improve the following e-mail: make it clearer and more professional while keeping its meaning.\n\n")
	fmt.Fprintf(&b, "Context: %s\n", orDefault(req.Context, defaultContext))
	fmt.Fprintf(&b, "Desired tone: %s\n", orDefault(req.Tone, "professional"))
	fmt.Fprintf(&b, "Language: %s\n\n", orDefault(req.Language, defaultLanguage))
	fmt.Fprintf(&b, "E-mail to improve:\n\n%s\n\n", strings.TrimSpace(req.OriginalEmail))
	b.WriteString("Return only the improved version.")
	return b.String()
}

func replyPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Write a reply to the following e-mail.\n\n")
	fmt.Fprintf(&b, "Context: %s\n", orDefault(req.Context, defaultContext))
	fmt.Fprintf(&b, "Goal of the reply: %s\n", orDefault(req.Goal, "Reply professionally."))
	fmt.Fprintf(&b, "Desired tone: %s\n", orDefault(req.Tone, "professional"))
	fmt.Fprintf(&b, "Language: %s\n\n", orDefault(req.Language, defaultLanguage))
	fmt.Fprintf(&b, "Received e-mail:\n\n%s\n\n", strings.TrimSpace(req.OriginalEmail))
	b.WriteString("Write a complete reply, ready to be sent.")
	return b.String()
}

func extensionPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Rewrite the following draft e-mail: clarify it, fix mistakes and make it more professional without changing its meaning.\n")
	fmt.Fprintf(&b, "Write the result in %s.\n", orDefault(req.Language, defaultLanguage))
	b.WriteString(`Answer with a JSON object {"subject": string, "body": string} and nothing else. `)
	b.WriteString("Keep the subject empty when the draft has none.\n\n")
	fmt.Fprintf(&b, "Subject:\n\"\"\"%s\"\"\"\n\n", strings.TrimSpace(req.Subject))
	fmt.Fprintf(&b, "Body:\n\"\"\"%s\"\"\"", strings.TrimSpace(req.OriginalEmail))
	return b.String()
}

// ParseRewrite decodes an extension reply. A reply without a body is invalid.
func ParseRewrite(text string) (Rewrite, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var out Rewrite
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return Rewrite{}, fmt.Errorf("%w: decode rewrite: %v", ErrInvalidResponse, err)
	}
	out.Subject = strings.TrimSpace(out.Subject)
	out.Body = strings.TrimSpace(out.Body)
	if out.Body == "" {
		return Rewrite{}, fmt.Errorf("%w: rewrite has no body", ErrInvalidResponse)
	}
	return out, nil
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
