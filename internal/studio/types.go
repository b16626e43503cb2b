package studio

import (
	"time"

	"stitch-studio/internal/gemini"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the append-only transcript. Image values are data
// URLs; Suggestions and Guide ride along on the analysis turn's assistant
// message.
type Message struct {
	ID          string
	Role        Role
	Text        string
	Time        time.Time
	Image       string
	Suggestions []Suggestion
	Guide       *gemini.Guide
	Generating  bool
}

// Suggestion is a selectable styled shot. Preview is filled in asynchronously
// by the thumbnail throttle; the ID stays stable across that update.
type Suggestion struct {
	ID      string
	Label   string
	Prompt  string
	Preview string
}
