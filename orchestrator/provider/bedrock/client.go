// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bedrock invokes AWS Bedrock models through the SDK invocation
// path. Authentication uses AWS Signature V4 via IAM roles or ambient
// credentials; no API key is stored in the descriptor.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"quorum/platform/orchestrator/provider"
)

const (
	// DefaultRegion is used when the descriptor does not set one.
	DefaultRegion = "us-east-1"

	// DefaultModel is used when neither descriptor nor invocation set one.
	DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	// DefaultMaxTokens bounds generation when the invocation does not.
	DefaultMaxTokens = 4096
)

// Runtime is the subset of the Bedrock runtime client used here
// (enables testing).
type Runtime interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Client implements the provider invoker contract over AWS Bedrock.
type Client struct {
	id     string
	region string
	model  string
	rt     Runtime
}

// New creates a Bedrock provider from its descriptor, loading AWS
// configuration for the descriptor's region.
func New(ctx context.Context, d *provider.Descriptor) (*Client, error) {
	region := d.Region
	if region == "" {
		region = DefaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock provider %q: failed to load AWS config (region %s): %w",
			d.ID, region, err)
	}

	model := d.Model
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		id:     d.ID,
		region: region,
		model:  model,
		rt:     bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

// NewWithRuntime creates a client with an injected runtime. Used by tests.
func NewWithRuntime(d *provider.Descriptor, rt Runtime) *Client {
	model := d.Model
	if model == "" {
		model = DefaultModel
	}
	region := d.Region
	if region == "" {
		region = DefaultRegion
	}
	return &Client{id: d.ID, region: region, model: model, rt: rt}
}

// ID returns the provider instance identifier.
func (c *Client) ID() string { return c.id }

// Kind returns the invocation path.
func (c *Client) Kind() provider.InvocationKind { return provider.KindSDK }

// Invoke performs one generation call via InvokeModel.
func (c *Client) Invoke(ctx context.Context, inv provider.Invocation) (*provider.Response, error) {
	model := inv.Params.Model
	if model == "" {
		model = c.model
	}

	body, err := buildRequestBody(inv, model)
	if err != nil {
		return nil, provider.NewInvocationError(c.id, provider.ErrCodeInvocation,
			err.Error(), err)
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := c.rt.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        bodyJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, c.mapError(ctx, err)
	}

	resp, err := parseResponseBody(output.Body, model)
	if err != nil {
		return nil, provider.NewInvocationError(c.id, provider.ErrCodeInvocation,
			err.Error(), err)
	}
	return resp, nil
}

// HealthCheck performs a minimal one-token completion.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := c.Invoke(ctx, provider.Invocation{
		Prompt: "ping",
		Params: provider.Params{MaxTokens: 1},
	})
	return err
}

func (c *Client) mapError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return provider.NewInvocationError(c.id, provider.ErrCodeTimeout,
			"invocation deadline exceeded", err)
	}

	msg := err.Error()
	code := provider.ErrCodeInvocation
	switch {
	case strings.Contains(msg, "ThrottlingException"):
		code = provider.ErrCodeRateLimit
	case strings.Contains(msg, "AccessDeniedException"),
		strings.Contains(msg, "UnrecognizedClientException"):
		code = provider.ErrCodeAuth
	case strings.Contains(msg, "ServiceUnavailableException"),
		strings.Contains(msg, "InternalServerException"):
		code = provider.ErrCodeUnavailable
	}
	return provider.NewInvocationError(c.id, code, "bedrock API error", err)
}

// buildRequestBody builds the request body based on model family.
func buildRequestBody(inv provider.Invocation, model string) (map[string]interface{}, error) {
	maxTokens := inv.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	prompt := inv.Prompt
	if len(inv.Context) > 0 {
		prompt = strings.Join(inv.Context, "\n\n") + "\n\n" + prompt
	}

	switch modelFamily(model) {
	case "anthropic":
		return map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       inv.Params.Temperature,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		}, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   inv.Params.Temperature,
				"topP":          0.9,
			},
		}, nil
	case "meta":
		return map[string]interface{}{
			"prompt":      prompt,
			"max_gen_len": maxTokens,
			"temperature": inv.Params.Temperature,
			"top_p":       0.9,
		}, nil
	case "mistral":
		return map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  maxTokens,
			"temperature": inv.Params.Temperature,
			"top_p":       0.9,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family for %q", model)
	}
}

// anthropicBody is the Bedrock Anthropic response shape.
type anthropicBody struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// titanBody is the Bedrock Amazon Titan response shape.
type titanBody struct {
	Results []struct {
		OutputText       string `json:"outputText"`
		TokenCount       int    `json:"tokenCount"`
		CompletionReason string `json:"completionReason"`
	} `json:"results"`
	InputTextTokenCount int `json:"inputTextTokenCount"`
}

// textBody covers the Meta and Mistral generation shapes.
type textBody struct {
	Generation string `json:"generation"`
	StopReason string `json:"stop_reason"`
	Outputs    []struct {
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"outputs"`
}

// parseResponseBody parses the response body based on model family.
func parseResponseBody(body []byte, model string) (*provider.Response, error) {
	switch modelFamily(model) {
	case "anthropic":
		var b anthropicBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		var text strings.Builder
		for _, block := range b.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return &provider.Response{
			Text:       text.String(),
			Model:      model,
			TokensUsed: b.Usage.InputTokens + b.Usage.OutputTokens,
			Truncated:  b.StopReason == "max_tokens",
		}, nil

	case "amazon":
		var b titanBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if len(b.Results) == 0 {
			return nil, fmt.Errorf("empty results in response")
		}
		r := b.Results[0]
		return &provider.Response{
			Text:       r.OutputText,
			Model:      model,
			TokensUsed: b.InputTextTokenCount + r.TokenCount,
			Truncated:  r.CompletionReason == "LENGTH",
		}, nil

	default:
		var b textBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		text := b.Generation
		stop := b.StopReason
		if text == "" && len(b.Outputs) > 0 {
			text = b.Outputs[0].Text
			stop = b.Outputs[0].StopReason
		}
		return &provider.Response{
			Text:      text,
			Model:     model,
			Truncated: stop == "length",
		}, nil
	}
}

// modelFamily detects the model family from a Bedrock model id
// (e.g. anthropic.claude-3-5-sonnet-... -> anthropic).
func modelFamily(model string) string {
	if i := strings.Index(model, "."); i > 0 {
		return model[:i]
	}
	return ""
}

// Factory returns the invoker factory for SDK providers.
func Factory(ctx context.Context) provider.Factory {
	return func(d *provider.Descriptor) (provider.Invoker, error) {
		return New(ctx, d)
	}
}

var _ provider.Invoker = (*Client)(nil)
