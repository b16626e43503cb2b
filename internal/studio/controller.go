// Package studio owns the conversation: the transcript, the current style
// suggestions and shooting guide, and the calls to the AI gateway that
// produce them. One analysis-or-generation request runs at a time.
package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stitch-studio/internal/gemini"
	"stitch-studio/internal/wallet"
)

var (
	ErrNotAuthenticated  = errors.New("no active session")
	ErrInsufficientCoins = errors.New("not enough coins")
	ErrBusy              = errors.New("another request is in flight")
	ErrEmptySubmission   = errors.New("nothing to analyze")
	ErrNoAnalysis        = errors.New("no product analyzed yet")
	ErrUnknownSuggestion = errors.New("unknown suggestion id")
)

// User-facing copy for gateway failures, rate-limit wording distinct from the
// generic one.
const (
	analysisQuotaCopy   = "The AI is currently full. Please try again in 30 seconds."
	analysisFailCopy    = "I'm having trouble connecting. Let's try that again."
	generateQuotaCopy   = "Too many requests. Please wait 1 minute."
	generateFailCopy    = "Couldn't create the photo."
	defaultSubmitText   = "Check this product out!"
	thumbnailNoticeCopy = "The AI is a bit busy. Previews will load once it's free."
)

// Gateway is the AI surface the controller needs.
type Gateway interface {
	AnalyzeProduct(ctx context.Context, text string, image *gemini.ImageInput) (gemini.Analysis, error)
	GenerateImage(ctx context.Context, prompt string, reference *gemini.ImageInput, preview bool) (string, error)
}

// Wallet is the identity/balance surface the controller needs.
type Wallet interface {
	CurrentUser() (wallet.User, bool)
	Debit(ctx context.Context, amount int)
}

type Options struct {
	Gateway Gateway
	Wallet  Wallet
	Logger  *slog.Logger

	// BaseContext bounds background thumbnail passes. Defaults to
	// context.Background().
	BaseContext context.Context

	ThumbnailDelay time.Duration
	QuotaCooldown  time.Duration
	// OnNotice receives the dismissible banner text when the throttle backs
	// off.
	OnNotice func(string)
}

type Controller struct {
	gateway Gateway
	wallet  Wallet
	logger  *slog.Logger
	baseCtx context.Context

	thumbs *throttle

	mu          sync.Mutex
	busy        bool
	messages    []Message
	suggestions []Suggestion
	guide       *gemini.Guide
	reference   *gemini.ImageInput
	hasAnalysis bool
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	return &Controller{
		gateway: opts.Gateway,
		wallet:  opts.Wallet,
		logger:  logger,
		baseCtx: baseCtx,
		thumbs: newThrottle(throttleOptions{
			Delay:    opts.ThumbnailDelay,
			Cooldown: opts.QuotaCooldown,
			OnNotice: opts.OnNotice,
		}),
	}
}

// Submit runs the analysis turn: appends the user message, asks the gateway
// for details, six prompts, and the guide, and installs them. Gateway
// failures become an assistant error message, never an error return; the
// returned error covers only the local guards.
func (c *Controller) Submit(ctx context.Context, text string, image *gemini.ImageInput) (Message, error) {
	user, ok := c.wallet.CurrentUser()
	if !ok {
		return Message{}, ErrNotAuthenticated
	}
	if user.Coins < wallet.CoinCost {
		return Message{}, ErrInsufficientCoins
	}

	text = strings.TrimSpace(text)
	if text == "" && image == nil {
		return Message{}, ErrEmptySubmission
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Message{}, ErrBusy
	}
	c.busy = true

	display := text
	if display == "" {
		display = defaultSubmitText
	}
	c.appendLocked(Message{
		ID:    uuid.NewString(),
		Role:  RoleUser,
		Text:  display,
		Time:  time.Now(),
		Image: dataURL(image),
	})
	c.mu.Unlock()

	defer c.clearBusy()

	analysis, err := c.gateway.AnalyzeProduct(ctx, text, image)
	if err != nil {
		c.logger.Error("product analysis failed", "err", err)
		copyText := analysisFailCopy
		if gemini.IsRateLimited(err) {
			copyText = analysisQuotaCopy
		}
		return c.appendAssistant(Message{Text: copyText}), nil
	}

	suggestions := normalizeSuggestions(analysis.Prompts)
	guide := analysis.Guide

	msg := c.appendAssistant(Message{
		Text: fmt.Sprintf("Got it! I'm ready to shoot your %s %s. Pick a style!",
			strings.TrimSpace(analysis.Details.Color), strings.TrimSpace(analysis.Details.Category)),
		Image:       dataURL(image),
		Suggestions: suggestions,
		Guide:       &guide,
	})

	c.mu.Lock()
	c.suggestions = suggestions
	c.guide = &guide
	c.reference = image
	c.hasAnalysis = true
	c.mu.Unlock()

	c.TriggerThumbnails()
	return msg, nil
}

// Generate renders the chosen suggestion as a full-quality photo. The coin
// debit happens only after the gateway returns an image.
func (c *Controller) Generate(ctx context.Context, suggestionID string) (Message, error) {
	user, ok := c.wallet.CurrentUser()
	if !ok {
		return Message{}, ErrNotAuthenticated
	}
	if user.Coins < wallet.CoinCost {
		return Message{}, ErrInsufficientCoins
	}

	c.mu.Lock()
	if !c.hasAnalysis {
		c.mu.Unlock()
		return Message{}, ErrNoAnalysis
	}
	var chosen *Suggestion
	for i := range c.suggestions {
		if c.suggestions[i].ID == suggestionID {
			chosen = &c.suggestions[i]
			break
		}
	}
	if chosen == nil {
		c.mu.Unlock()
		return Message{}, ErrUnknownSuggestion
	}
	if c.busy {
		c.mu.Unlock()
		return Message{}, ErrBusy
	}
	c.busy = true

	prompt := chosen.Prompt
	label := chosen.Label
	reference := c.reference

	placeholder := Message{
		ID:         uuid.NewString(),
		Role:       RoleAssistant,
		Text:       fmt.Sprintf("Making your %s photo...", label),
		Time:       time.Now(),
		Generating: true,
	}
	c.appendLocked(placeholder)
	c.mu.Unlock()

	defer c.clearBusy()

	imageURL, err := c.gateway.GenerateImage(ctx, prompt, reference, false)
	if err != nil {
		c.logger.Error("image generation failed", "suggestion", suggestionID, "err", err)
		copyText := generateFailCopy
		if gemini.IsRateLimited(err) {
			copyText = generateQuotaCopy
		}
		return c.replaceMessage(placeholder.ID, copyText, ""), nil
	}

	msg := c.replaceMessage(placeholder.ID, "Your photo is ready!", imageURL)
	c.wallet.Debit(ctx, wallet.CoinCost)
	return msg, nil
}

// TriggerThumbnails starts a background preview pass if none is running.
func (c *Controller) TriggerThumbnails() {
	go c.runThumbnailPass(c.baseCtx)
}

// Messages returns a copy of the transcript in display order.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Suggestions returns a copy of the current suggestion set.
func (c *Controller) Suggestions() []Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Suggestion, len(c.suggestions))
	copy(out, c.suggestions)
	return out
}

func (c *Controller) Guide() *gemini.Guide {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guide
}

func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Reset drops the transcript and all derived state, e.g. on logout.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = nil
	c.suggestions = nil
	c.guide = nil
	c.reference = nil
	c.hasAnalysis = false
}

func (c *Controller) appendLocked(msg Message) {
	c.messages = append(c.messages, msg)
}

func (c *Controller) appendAssistant(msg Message) Message {
	msg.ID = uuid.NewString()
	msg.Role = RoleAssistant
	msg.Time = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(msg)
	return msg
}

func (c *Controller) replaceMessage(id, text, imageURL string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.messages {
		if c.messages[i].ID != id {
			continue
		}
		c.messages[i].Text = text
		c.messages[i].Image = imageURL
		c.messages[i].Generating = false
		return c.messages[i]
	}
	return Message{}
}

func (c *Controller) clearBusy() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Controller) missingPreviews() []Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Suggestion
	for _, s := range c.suggestions {
		if s.Preview == "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Controller) referenceImage() *gemini.ImageInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reference
}

func (c *Controller) setPreview(id, preview string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.suggestions {
		if c.suggestions[i].ID == id {
			c.suggestions[i].Preview = preview
			return
		}
	}
}

// normalizeSuggestions guarantees stable unique ids even when the model
// returns blanks or duplicates.
func normalizeSuggestions(prompts []gemini.StylePrompt) []Suggestion {
	seen := make(map[string]bool, len(prompts))
	out := make([]Suggestion, 0, len(prompts))
	for _, p := range prompts {
		id := strings.TrimSpace(p.ID)
		if id == "" || seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true
		out = append(out, Suggestion{
			ID:     id,
			Label:  p.Label,
			Prompt: p.Prompt,
		})
	}
	return out
}

func dataURL(image *gemini.ImageInput) string {
	if image == nil {
		return ""
	}
	return fmt.Sprintf("data:%s;base64,%s", image.MimeType, image.DataBase64)
}
