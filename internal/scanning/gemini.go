package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	geminiProvider     = "gemini"
	DefaultGeminiModel = "gemini-2.5-flash"
)

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Extract sends the document with the extraction prompt and returns the raw answer
func (g *Gemini) Extract(ctx context.Context, doc *Document) (string, error) {
	parts, err := geminiParts(doc)
	if err != nil {
		return "", &ModelError{Provider: geminiProvider, Err: err}
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", &ModelError{Provider: geminiProvider, Err: fmt.Errorf("generating content: %w", err)}
	}

	text, err := responseText(resp)
	if err != nil {
		return "", &ModelError{Provider: geminiProvider, Err: err}
	}
	return text, nil
}

// ListModels returns the names of the models that support content generation
func (g *Gemini) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	it := g.client.ListModels(ctx)
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing models: %w", err)
		}
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				names = append(names, m.Name)
				break
			}
		}
	}
	return names, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// geminiParts builds the request: the document blob followed by the prompt
func geminiParts(doc *Document) ([]genai.Part, error) {
	data, mimeType, err := preparePayload(doc)
	if err != nil {
		return nil, err
	}

	return []genai.Part{
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(extractionPrompt),
	}, nil
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	text := strings.TrimSpace(responseText.String())
	if text == "" {
		return "", errors.New("gemini response contained no text")
	}
	return text, nil
}
