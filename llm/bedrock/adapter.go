// Package bedrock is an agent.Model for Anthropic models on AWS Bedrock.
// Requests use the Messages body format through InvokeModel.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/llm/anthropic"
)

const anthropicVersion = "bedrock-2023-05-31"

// InvokeModelAPI is the slice of *bedrockruntime.Client the adapter uses.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

var _ InvokeModelAPI = (*bedrockruntime.Client)(nil)

type Config struct {
	Region  string
	ModelID string
	// Client overrides the SDK client built from the default AWS config.
	Client InvokeModelAPI
}

type Adapter struct {
	client  InvokeModelAPI
	modelID string
}

var _ agent.Model = (*Adapter)(nil)

// New loads the default AWS credential chain unless cfg.Client is set. SDK
// retries are disabled so throttling reaches the rate limiter.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	modelID := strings.TrimSpace(cfg.ModelID)
	if modelID == "" {
		return nil, fmt.Errorf("new bedrock adapter: model id is required")
	}

	client := cfg.Client
	if client == nil {
		var opts []func(*config.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("new bedrock adapter: load aws config: %w", err)
		}
		client = bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
			o.RetryMaxAttempts = 1
		})
	}

	return &Adapter{client: client, modelID: modelID}, nil
}

func (a *Adapter) Generate(ctx context.Context, request agent.ModelRequest) (agent.ModelResponse, error) {
	modelID := a.modelID
	if request.ModelID != "" {
		modelID = request.ModelID
	}

	payload, err := anthropic.BuildRequest("", request)
	if err != nil {
		return agent.ModelResponse{}, agent.NewError(agent.KindFatal, "bedrock", err)
	}
	payload.AnthropicVersion = anthropicVersion
	body, err := json.Marshal(payload)
	if err != nil {
		return agent.ModelResponse{}, agent.NewError(agent.KindFatal, "bedrock", fmt.Errorf("encode request: %w", err))
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return agent.ModelResponse{}, classify(err)
	}

	parsed, err := anthropic.ParseResponse(output.Body)
	if err != nil {
		return agent.ModelResponse{}, agent.NewError(agent.KindFatal, "bedrock", err)
	}
	return parsed, nil
}

var rateLimitCodes = map[string]struct{}{
	"ThrottlingException":           {},
	"ServiceQuotaExceededException": {},
	"TooManyRequestsException":      {},
	"ServiceUnavailableException":   {},
	"ModelNotReadyException":        {},
}

func classify(err error) error {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return agent.NewError(agent.KindRateLimit, "bedrock", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := rateLimitCodes[apiErr.ErrorCode()]; ok {
			return agent.NewError(agent.KindRateLimit, "bedrock", err)
		}
		if apiErr.ErrorCode() == "ValidationException" && anthropic.IsPromptTooLong(apiErr.ErrorMessage()) {
			return agent.NewError(agent.KindPromptTooLong, "bedrock", err)
		}
	}
	return agent.NewError(agent.KindFatal, "bedrock", err)
}
