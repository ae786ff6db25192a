package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/shelfscan/store"
)

// RemoteConfig configures an OpenAI compatible multimodal embeddings endpoint.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// RemoteExtractor sends the PNG encoded image as a data URL to an embeddings endpoint.
type RemoteExtractor struct {
	client *openai.Client
	model  string
}

// NewRemoteExtractor creates a remote extractor.
func NewRemoteExtractor(cfg *RemoteConfig) (*RemoteExtractor, error) {
	if cfg == nil || cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &RemoteExtractor{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

func (e *RemoteExtractor) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.Wrap(ErrEmbeddingUnavailable, "empty image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrapf(ErrEmbeddingUnavailable, "encode image: %v", err)
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{dataURL},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: store.EmbeddingDimension,
	})
	if err != nil {
		return nil, errors.Wrapf(ErrEmbeddingUnavailable, "create embeddings: %v", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.Wrap(ErrEmbeddingUnavailable, "empty embedding response")
	}
	vector := resp.Data[0].Embedding
	if err := validateEmbedding(vector); err != nil {
		return nil, err
	}
	return vector, nil
}
