package prompt

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/ai"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

//go:embed schema/reply.schema.json
var replySchema []byte

const schemaURL = "mem://datasheet-lens/reply.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(replySchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a senior hardware engineer reviewing electronic component datasheets for PCB design. You must produce one valid JSON object only (no markdown around it, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- tags: key facts as flat string values, e.g. manufacturer, part_number, package, supply_voltage_range, max_output_current, operating_temperature. Include only what the pages state.
- summary: Markdown text describing what the part does, important pins and their functions, and notes on the reference design or typical application circuit.
- checkpoints: ordered list of concrete items an engineer should verify on the schematic and layout. Use categories such as power, decoupling, layout, thermal, signal_integrity, protection, mechanical. Cite pin numbers and component values when the datasheet gives them.
- verification_snippet: a short Python script that encodes the checkpoints as assertions over a netlist dictionary, so the checks can be automated.
- If a value is not present in the pages, leave it out instead of guessing.

Schema (example with empty values):
{
  "tags": {"<name>": "<value>"},
  "summary": "<markdown string>",
  "checkpoints": [
    {"description": "<string>", "category": "<string>"}
  ],
  "verification_snippet": "<string>"
}`
}

// GetUserPrompt builds the text part sent alongside the page images.
func GetUserPrompt(pageCount int) string {
	if pageCount == 1 {
		return "The attached image is a datasheet page. Analyze it and respond with the JSON per schema."
	}
	return fmt.Sprintf("The %d attached images are consecutive datasheet pages, in order. Analyze them and respond with the JSON per schema.", pageCount)
}

// ParseReply validates a model reply against the reply schema and converts it
// into an ai.Result. Any mismatch is reported as *ai.ParseError.
func ParseReply(raw string) (ai.Result, error) {
	body := stripFences(raw)
	if body == "" {
		return ai.Result{}, &ai.ParseError{Reason: "empty reply", Raw: raw}
	}

	var doc any
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return ai.Result{}, &ai.ParseError{Reason: "invalid json: " + err.Error(), Raw: raw}
	}

	s, err := compiled()
	if err != nil {
		return ai.Result{}, fmt.Errorf("compile reply schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return ai.Result{}, &ai.ParseError{Reason: err.Error(), Raw: raw}
	}

	var reply struct {
		Tags                map[string]any       `json:"tags"`
		Summary             string               `json:"summary"`
		Checkpoints         []records.Checkpoint `json:"checkpoints"`
		VerificationSnippet string               `json:"verification_snippet"`
	}
	dec = json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&reply); err != nil {
		return ai.Result{}, &ai.ParseError{Reason: err.Error(), Raw: raw}
	}

	tags := make(map[string]string, len(reply.Tags))
	for k, v := range reply.Tags {
		tags[strings.TrimSpace(k)] = tagString(v)
	}
	checkpoints := make([]records.Checkpoint, 0, len(reply.Checkpoints))
	for _, c := range reply.Checkpoints {
		checkpoints = append(checkpoints, records.Checkpoint{
			Description: strings.TrimSpace(c.Description),
			Category:    strings.ToLower(strings.TrimSpace(c.Category)),
		})
	}

	return ai.Result{
		Tags:                tags,
		Summary:             strings.TrimSpace(reply.Summary),
		Checkpoints:         checkpoints,
		VerificationSnippet: reply.VerificationSnippet,
		Raw:                 raw,
	}, nil
}

// stripFences removes a ```json ... ``` wrapper some models add despite the
// instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func tagString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
