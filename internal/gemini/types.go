package gemini

type ImageInput struct {
	DataBase64 string
	MimeType   string
}

// ProductDetails is the attribute set extracted by the analysis call.
type ProductDetails struct {
	Category string `json:"category"`
	Color    string `json:"color"`
	Material string `json:"material"`
	Style    string `json:"style"`
	Context  string `json:"context"`
}

// StylePrompt is one of the six suggested shots.
type StylePrompt struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

type GuideShot struct {
	Title string `json:"title"`
	Pose  string `json:"pose"`
	Angle string `json:"angle"`
	Why   string `json:"why"`
}

type Guide struct {
	Category string      `json:"category"`
	Shots    []GuideShot `json:"shots"`
}

type Analysis struct {
	Details ProductDetails `json:"details"`
	Prompts []StylePrompt  `json:"prompts"`
	Guide   Guide          `json:"guide"`
}
