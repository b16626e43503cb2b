package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return New(Options{
		APIKey:     "test-key",
		BaseURL:    url,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
}

func textResponse(text string) string {
	resp := generateContentResponse{
		Candidates: []candidate{{Content: content{Parts: []part{{Text: text}}}}},
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func imageResponse(data string) string {
	resp := generateContentResponse{
		Candidates: []candidate{{Content: content{Parts: []part{
			{InlineData: &blob{Data: data, MimeType: "image/png"}},
		}}}},
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

const validAnalysis = `{
	"details": {"category":"sneaker","color":"red","material":"suede","style":"retro","context":"streetwear"},
	"prompts": [
		{"id":"s1","label":"Hero","prompt":"hero shot"},
		{"id":"s2","label":"Macro","prompt":"macro shot"},
		{"id":"s3","label":"Flat Lay","prompt":"flat lay"},
		{"id":"s4","label":"Lifestyle","prompt":"lifestyle"},
		{"id":"s5","label":"Floating","prompt":"floating"},
		{"id":"s6","label":"Night","prompt":"night"}
	],
	"guide": {"category":"sneaker","shots":[{"title":"Low angle","pose":"on box","angle":"30deg","why":"makes it heroic"}]}
}`

func TestAnalyzeProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes the schema-constrained response", func(t *testing.T) {
		var gotPath, gotKey string
		var gotReq generateContentRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotKey = r.Header.Get("x-goog-api-key")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			w.Write([]byte(textResponse(validAnalysis)))
		}))
		defer srv.Close()

		analysis, err := newTestClient(srv.URL).AnalyzeProduct(ctx, "red suede sneaker", nil)
		require.NoError(t, err)

		assert.Equal(t, "/v1beta/models/gemini-3-flash-preview:generateContent", gotPath)
		assert.Equal(t, "test-key", gotKey)
		assert.Equal(t, "application/json", gotReq.GenerationConfig.ResponseMIMEType)
		require.NotNil(t, gotReq.GenerationConfig.ResponseSchema)

		assert.Equal(t, "sneaker", analysis.Details.Category)
		assert.Len(t, analysis.Prompts, 6)
		assert.Equal(t, "Hero", analysis.Prompts[0].Label)
		require.Len(t, analysis.Guide.Shots, 1)
		assert.Equal(t, "Low angle", analysis.Guide.Shots[0].Title)
	})

	t.Run("attaches the product photo inline", func(t *testing.T) {
		var gotReq generateContentRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			w.Write([]byte(textResponse(validAnalysis)))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).AnalyzeProduct(ctx, "sneaker", &ImageInput{
			DataBase64: "aGVsbG8=",
			MimeType:   "image/jpeg",
		})
		require.NoError(t, err)

		require.Len(t, gotReq.Contents, 1)
		parts := gotReq.Contents[0].Parts
		require.Len(t, parts, 2)
		require.NotNil(t, parts[1].InlineData)
		assert.Equal(t, "aGVsbG8=", parts[1].InlineData.Data)
		assert.Equal(t, "image/jpeg", parts[1].InlineData.MimeType)
	})

	t.Run("wrong prompt count is a hard failure", func(t *testing.T) {
		short := `{
			"details": {"category":"sneaker","color":"red","material":"suede","style":"retro","context":"streetwear"},
			"prompts": [{"id":"s1","label":"Hero","prompt":"hero shot"}],
			"guide": {"category":"sneaker","shots":[]}
		}`

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(textResponse(short)))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).AnalyzeProduct(ctx, "sneaker", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 6 prompts")
	})

	t.Run("empty response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"candidates":[]}`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).AnalyzeProduct(ctx, "sneaker", nil)
		assert.Error(t, err)
	})

	t.Run("api error surfaces status and body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).AnalyzeProduct(ctx, "sneaker", nil)
		require.Error(t, err)
		assert.True(t, IsRateLimited(err))
	})
}

func TestGenerateImage(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the image as a data url", func(t *testing.T) {
		var gotPath string
		var gotReq generateContentRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			w.Write([]byte(imageResponse("cGl4ZWxz")))
		}))
		defer srv.Close()

		url, err := newTestClient(srv.URL).GenerateImage(ctx, "sneaker on a pedestal", nil, false)
		require.NoError(t, err)

		assert.Equal(t, "/v1beta/models/gemini-2.5-flash-image:generateContent", gotPath)
		assert.Equal(t, "data:image/png;base64,cGl4ZWxz", url)
		assert.Equal(t, []string{"IMAGE"}, gotReq.GenerationConfig.ResponseModalities)
		require.NotNil(t, gotReq.GenerationConfig.ImageConfig)
		assert.Equal(t, "1:1", gotReq.GenerationConfig.ImageConfig.AspectRatio)
	})

	t.Run("reference image switches to the re-stage prompt", func(t *testing.T) {
		var gotReq generateContentRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			w.Write([]byte(imageResponse("cGl4ZWxz")))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).GenerateImage(ctx, "hero shot", &ImageInput{
			DataBase64: "aGVsbG8=",
			MimeType:   "image/jpeg",
		}, false)
		require.NoError(t, err)

		parts := gotReq.Contents[0].Parts
		require.Len(t, parts, 2)
		require.NotNil(t, parts[0].InlineData)
		assert.Contains(t, parts[1].Text, "Use the exact item from the photo")
	})

	t.Run("retries without imageConfig when the field is rejected", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			var req generateContentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.GenerationConfig.ImageConfig != nil {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":{"message":"Unknown name \"imageConfig\""}}`))
				return
			}
			w.Write([]byte(imageResponse("cGl4ZWxz")))
		}))
		defer srv.Close()

		url, err := newTestClient(srv.URL).GenerateImage(ctx, "sneaker", nil, false)
		require.NoError(t, err)
		assert.Equal(t, "data:image/png;base64,cGl4ZWxz", url)
		assert.Equal(t, 2, calls)
	})

	t.Run("no inline data", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(textResponse("I cannot draw that.")))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).GenerateImage(ctx, "sneaker", nil, false)
		assert.ErrorIs(t, err, ErrNoImage)
	})

	t.Run("empty prompt", func(t *testing.T) {
		_, err := newTestClient("http://unused").GenerateImage(ctx, "   ", nil, false)
		assert.Error(t, err)
	})
}

func TestIsRateLimited(t *testing.T) {
	assert.False(t, IsRateLimited(nil))
	assert.False(t, IsRateLimited(errors.New("connection refused")))
	assert.True(t, IsRateLimited(errors.New("gemini API 429 Too Many Requests: slow down")))
	assert.True(t, IsRateLimited(errors.New("RESOURCE_EXHAUSTED: Quota exceeded for requests")))
}
