package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Validator is implemented by structured response types.
type Validator interface {
	Validate() error
}

// ParseError reports a reply that was not valid JSON for the schema or
// failed validation. Raw keeps the reply for the repair step and logs.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("structured output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RepairError reports that both the first attempt and the repair failed.
type RepairError struct {
	First  error
	Repair error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("structured output after repair: %v (first attempt: %v)", e.Repair, e.First)
}

func (e *RepairError) Unwrap() []error {
	return []error{e.First, e.Repair}
}

// IsParseError reports whether err carries a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// StripFences removes a surrounding markdown code fence and any prose before
// the first JSON object.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		if i := strings.Index(s, "{"); i >= 0 {
			if j := strings.LastIndex(s, "}"); j > i {
				s = s[i : j+1]
			}
		}
	}
	return s
}

// Parse decodes msg into T and validates it.
func Parse[T Validator](ctx context.Context, msg *schema.Message) (T, error) {
	var zero T
	if msg == nil {
		return zero, &ParseError{Err: ErrEmptyResponse}
	}
	raw := msg.Content
	cleaned := &schema.Message{Role: msg.Role, Content: StripFences(raw)}
	if cleaned.Content == "" {
		return zero, &ParseError{Raw: raw, Err: ErrEmptyResponse}
	}

	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})
	out, err := parser.Parse(ctx, cleaned)
	if err != nil {
		return zero, &ParseError{Raw: raw, Err: err}
	}
	if err := out.Validate(); err != nil {
		return zero, &ParseError{Raw: raw, Err: err}
	}
	return out, nil
}

// Structured performs one schema-constrained call. Transport failures are
// returned as-is; malformed or invalid replies as *ParseError.
func Structured[T Validator](ctx context.Context, c *Client, msgs []*schema.Message) (T, error) {
	var zero T
	out, err := c.Generate(ctx, msgs)
	if err != nil {
		return zero, err
	}
	return Parse[T](ctx, out)
}

// StructuredWithRepair retries once with repairPrompt appended when the
// first reply fails to parse. Transport errors are not retried.
func StructuredWithRepair[T Validator](ctx context.Context, c *Client, msgs []*schema.Message, repairPrompt string) (T, error) {
	out, err := Structured[T](ctx, c, msgs)
	if err == nil || !IsParseError(err) {
		return out, err
	}
	first := err

	repair := make([]*schema.Message, 0, len(msgs)+2)
	repair = append(repair, msgs...)
	var pe *ParseError
	if errors.As(first, &pe) && strings.TrimSpace(pe.Raw) != "" {
		repair = append(repair, schema.AssistantMessage(pe.Raw, nil))
	}
	repair = append(repair, schema.UserMessage(repairPrompt))

	out, err = Structured[T](ctx, c, repair)
	if err != nil {
		return out, &RepairError{First: first, Repair: err}
	}
	return out, nil
}
