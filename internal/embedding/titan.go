package embedding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/tidwall/gjson"

	"github.com/hyperjump/mitsuke/internal/models"
)

const (
	DefaultTitanModel      = "amazon.titan-embed-image-v1"
	DefaultTitanDimensions = 256
)

// TitanConfig configures a TitanBackend. Credentials default to the standard
// AWS chain (environment, shared config, instance role) for Region.
type TitanConfig struct {
	Region       string
	ModelID      string
	Dimensions   int
	Endpoint     string
	MaxImageSide int
	Credentials  aws.CredentialsProvider
	HTTPClient   *http.Client
}

// TitanBackend calls the Amazon Titan multimodal embedding model through the
// Bedrock runtime InvokeModel API.
type TitanBackend struct {
	cfg    TitanConfig
	client *bedrockruntime.Client
}

// NewTitanBackend returns a Titan backend. SDK-level retries are disabled;
// the Adapter owns retrying.
func NewTitanBackend(ctx context.Context, cfg TitanConfig) (*TitanBackend, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultTitanModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultTitanDimensions
	}
	if cfg.MaxImageSide == 0 {
		cfg.MaxImageSide = DefaultMaxImageSide
	}
	switch cfg.Dimensions {
	case 256, 384, 1024:
	default:
		return nil, fmt.Errorf("titan: unsupported output length %d (want 256, 384 or 1024)", cfg.Dimensions)
	}

	awsCfg := aws.Config{Region: cfg.Region, Credentials: cfg.Credentials}
	if cfg.Credentials == nil || cfg.Region == "" {
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		loaded, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("titan: failed to load AWS config: %w", err)
		}
		if cfg.Credentials != nil {
			loaded.Credentials = cfg.Credentials
		}
		awsCfg = loaded
	}
	if awsCfg.Region == "" {
		return nil, errors.New("titan: no AWS region configured")
	}
	if awsCfg.Credentials != nil {
		awsCfg.Credentials = aws.NewCredentialsCache(awsCfg.Credentials)
	}
	cfg.Region = awsCfg.Region

	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		o.Retryer = aws.NopRetryer{}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return &TitanBackend{cfg: cfg, client: client}, nil
}

// Name implements Backend.
func (b *TitanBackend) Name() string { return "titan" }

type titanEmbeddingConfig struct {
	OutputEmbeddingLength int `json:"outputEmbeddingLength"`
}

type titanRequest struct {
	InputText       string               `json:"inputText,omitempty"`
	InputImage      string               `json:"inputImage,omitempty"`
	EmbeddingConfig titanEmbeddingConfig `json:"embeddingConfig"`
}

// Embed implements Backend. Images are fitted within MaxImageSide and sent
// as base64 JPEG.
func (b *TitanBackend) Embed(ctx context.Context, modality models.Modality, payload []byte) ([]float32, error) {
	body := titanRequest{EmbeddingConfig: titanEmbeddingConfig{OutputEmbeddingLength: b.cfg.Dimensions}}
	switch modality {
	case models.ModalityText:
		body.InputText = string(payload)
	case models.ModalityImage:
		img, err := FitImage(payload, b.cfg.MaxImageSide, DefaultJPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("titan: %w", err)
		}
		body.InputImage = base64.StdEncoding.EncodeToString(img)
	default:
		return nil, ErrUnsupportedModality
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("titan: failed to encode request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.cfg.ModelID),
		Body:        data,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}
	return parseFloatArray(gjson.GetBytes(out.Body, "embedding"), "titan")
}

// Close is a no-op for TitanBackend.
func (b *TitanBackend) Close() error { return nil }

func classifyBedrockError(err error) error {
	var (
		throttling *types.ThrottlingException
		quota      *types.ServiceQuotaExceededException
		validation *types.ValidationException
		denied     *types.AccessDeniedException
	)
	switch {
	case errors.As(err, &throttling), errors.As(err, &quota):
		return fmt.Errorf("%w: titan: %w", ErrRateLimited, err)
	case errors.As(err, &validation):
		return fmt.Errorf("%w: titan: %w", ErrInvalidInput, err)
	case errors.As(err, &denied):
		return fmt.Errorf("%w: titan: %w", ErrUnauthorized, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException":
			return fmt.Errorf("%w: titan: %w", ErrRateLimited, err)
		case "UnrecognizedClientException", "ExpiredTokenException", "InvalidSignatureException":
			return fmt.Errorf("%w: titan: %w", ErrUnauthorized, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: titan: %w", ErrRateLimited, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: titan: %w", ErrUnauthorized, err)
		}
	}
	return fmt.Errorf("titan: %w", err)
}

// parseFloatArray converts a JSON number array to float32. Non-numeric
// elements make the whole vector invalid.
func parseFloatArray(res gjson.Result, backend string) ([]float32, error) {
	if !res.IsArray() {
		return nil, fmt.Errorf("%s: %w", backend, ErrEmptyEmbedding)
	}
	arr := res.Array()
	values := make([]float32, len(arr))
	for i, v := range arr {
		if v.Type != gjson.Number {
			return nil, fmt.Errorf("%s: non-numeric embedding element at %d", backend, i)
		}
		values[i] = float32(v.Float())
	}
	return values, nil
}
