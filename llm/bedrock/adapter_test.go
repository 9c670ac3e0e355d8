package bedrock_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/Gurpartap/reportagent/agent"
	"github.com/Gurpartap/reportagent/llm/bedrock"
)

type fakeRuntime struct {
	input  *bedrockruntime.InvokeModelInput
	output []byte
	err    error
}

func (f *fakeRuntime) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.output}, nil
}

func TestNewRequiresModelID(t *testing.T) {
	t.Parallel()

	_, err := bedrock.New(context.Background(), bedrock.Config{Client: &fakeRuntime{}})
	require.Error(t, err)
}

func TestGenerateInvokesModelWithMessagesBody(t *testing.T) {
	t.Parallel()

	runtime := &fakeRuntime{output: []byte(`{
		"role": "assistant",
		"stop_reason": "end_turn",
		"content": [{"type": "text", "text": "Weekly summary."}],
		"usage": {"input_tokens": 900, "output_tokens": 80}
	}`)}
	adapter, err := bedrock.New(context.Background(), bedrock.Config{
		ModelID: "anthropic.claude-3-5-sonnet-20240620-v1:0",
		Client:  runtime,
	})
	require.NoError(t, err)

	response, err := adapter.Generate(context.Background(), agent.ModelRequest{
		MaxTokens: 2048,
		System:    "Be brief.",
		Messages:  []agent.Message{agent.UserText("Summarize the week.")},
	})
	require.NoError(t, err)
	require.Equal(t, "Weekly summary.", response.Message.Text())
	require.Equal(t, agent.StopReasonEndTurn, response.StopReason)
	require.Equal(t, agent.Usage{InputTokens: 900, OutputTokens: 80}, response.Usage)

	require.Equal(t, "anthropic.claude-3-5-sonnet-20240620-v1:0", aws.ToString(runtime.input.ModelId))
	require.Equal(t, "application/json", aws.ToString(runtime.input.ContentType))

	var body map[string]any
	require.NoError(t, json.Unmarshal(runtime.input.Body, &body))
	require.Equal(t, "bedrock-2023-05-31", body["anthropic_version"])
	require.EqualValues(t, 2048, body["max_tokens"])
	require.Equal(t, "Be brief.", body["system"])
	_, hasModel := body["model"]
	require.False(t, hasModel, "bedrock bodies must not carry a model field")
}

func TestGenerateClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want agent.ErrorKind
	}{
		{name: "throttling", err: &types.ThrottlingException{Message: aws.String("Too many requests")}, want: agent.KindRateLimit},
		{name: "quota", err: &smithy.GenericAPIError{Code: "ServiceQuotaExceededException", Message: "quota"}, want: agent.KindRateLimit},
		{name: "input too long", err: &types.ValidationException{Message: aws.String("Input is too long for requested model.")}, want: agent.KindPromptTooLong},
		{name: "other validation", err: &types.ValidationException{Message: aws.String("malformed input")}, want: agent.KindFatal},
		{name: "network", err: errors.New("dial tcp: timeout"), want: agent.KindFatal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			adapter, err := bedrock.New(context.Background(), bedrock.Config{ModelID: "m", Client: &fakeRuntime{err: tc.err}})
			require.NoError(t, err)

			_, err = adapter.Generate(context.Background(), agent.ModelRequest{Messages: []agent.Message{agent.UserText("hi")}})
			require.Equal(t, tc.want, agent.KindOf(err), "error: %v", err)
			require.ErrorIs(t, err, tc.err)
		})
	}
}
