package domain

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// AssetInfo describes a generated artifact delivered by the pipeline.
type AssetInfo struct {
	AssetID    string         `json:"assetId"`
	URL        string         `json:"url"`
	Resolution string         `json:"resolution"`
	Format     string         `json:"format"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Valid reports whether the descriptor carries the fields callers rely on.
func (a AssetInfo) Valid() bool {
	return strings.TrimSpace(a.AssetID) != "" && strings.TrimSpace(a.URL) != ""
}

func (a AssetInfo) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.AssetID, validation.Required, validation.Length(1, 256)),
		validation.Field(&a.URL, validation.Required, validation.Length(1, 2048)),
	)
}
