package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// OutputFormatCustom requires explicit CustomDimensions.
	OutputFormatCustom = "Custom"
	// MaxDimension bounds each side of a custom canvas in pixels.
	MaxDimension = 8192
	// MaxPromptLength bounds the primary prompt.
	MaxPromptLength = 4096
	// MaxStyleLength bounds the style guidance.
	MaxStyleLength = 2048
)

// Dimensions is a custom canvas size.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Width, validation.Required, validation.Min(1), validation.Max(MaxDimension)),
		validation.Field(&d.Height, validation.Required, validation.Min(1), validation.Max(MaxDimension)),
	)
}

// GenerationParams holds the free-form inputs forwarded to the pipeline
// alongside the prompt.
type GenerationParams struct {
	OutputFormat     string         `json:"outputFormat"`
	CustomDimensions *Dimensions    `json:"customDimensions,omitempty"`
	BrandKitID       string         `json:"brandKitId,omitempty"`
	ImageRefs        []string       `json:"imageRefs,omitempty"`
	PlatformHints    []string       `json:"platformHints,omitempty"`
	Tone             string         `json:"tone,omitempty"`
	CulturalParams   map[string]any `json:"culturalParams,omitempty"`
}

// Normalize trims values and drops empty or repeated list entries.
func (p *GenerationParams) Normalize() {
	if p == nil {
		return
	}
	p.OutputFormat = strings.TrimSpace(p.OutputFormat)
	if strings.EqualFold(p.OutputFormat, OutputFormatCustom) {
		p.OutputFormat = OutputFormatCustom
	}
	p.BrandKitID = strings.TrimSpace(p.BrandKitID)
	p.Tone = strings.TrimSpace(p.Tone)
	p.ImageRefs = compact(p.ImageRefs, false)
	p.PlatformHints = compact(p.PlatformHints, true)
}

// Validate ensures the parameters satisfy the pipeline contract.
func (p GenerationParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OutputFormat, validation.Required, validation.Length(1, 64)),
		validation.Field(&p.CustomDimensions, validation.When(p.OutputFormat == OutputFormatCustom, validation.Required)),
		validation.Field(&p.ImageRefs, validation.Length(0, 10)),
		validation.Field(&p.PlatformHints, validation.Length(0, 10)),
		validation.Field(&p.Tone, validation.Length(0, 64)),
	)
}

// ToMap flattens the parameters into the map persisted on the request.
func (p GenerationParams) ToMap() map[string]any {
	out := map[string]any{}
	if err := json.Unmarshal(MustMarshal(p), &out); err != nil {
		panic(fmt.Errorf("json unmarshal: %w", err))
	}
	return out
}

func compact(values []string, lower bool) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
