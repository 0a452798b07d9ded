package repo

import (
	"encoding/json"
	"fmt"

	"orchestrator/internal/domain"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// jsonColumns holds the serialized form of the request's structured fields.
type jsonColumns struct {
	params       []byte
	samples      []byte
	finalAsset   []byte
	errorDetails []byte
}

func encodeColumns(req *domain.GenerationRequest) (jsonColumns, error) {
	var (
		cols jsonColumns
		err  error
	)
	params := req.InputParameters
	if params == nil {
		params = map[string]any{}
	}
	if cols.params, err = json.Marshal(params); err != nil {
		return cols, fmt.Errorf("encode input parameters: %w", err)
	}
	samples := req.SampleAssets
	if samples == nil {
		samples = []domain.AssetInfo{}
	}
	if cols.samples, err = json.Marshal(samples); err != nil {
		return cols, fmt.Errorf("encode sample assets: %w", err)
	}
	if req.FinalAsset != nil {
		if cols.finalAsset, err = json.Marshal(req.FinalAsset); err != nil {
			return cols, fmt.Errorf("encode final asset: %w", err)
		}
	}
	if req.ErrorDetails != nil {
		if cols.errorDetails, err = json.Marshal(req.ErrorDetails); err != nil {
			return cols, fmt.Errorf("encode error details: %w", err)
		}
	}
	return cols, nil
}

func (c jsonColumns) decodeInto(req *domain.GenerationRequest) error {
	req.InputParameters = map[string]any{}
	if len(c.params) > 0 {
		if err := json.Unmarshal(c.params, &req.InputParameters); err != nil {
			return fmt.Errorf("decode input parameters: %w", err)
		}
	}
	req.SampleAssets = nil
	if len(c.samples) > 0 {
		var samples []domain.AssetInfo
		if err := json.Unmarshal(c.samples, &samples); err != nil {
			return fmt.Errorf("decode sample assets: %w", err)
		}
		if len(samples) > 0 {
			req.SampleAssets = samples
		}
	}
	req.FinalAsset = nil
	if len(c.finalAsset) > 0 && string(c.finalAsset) != "null" {
		var asset domain.AssetInfo
		if err := json.Unmarshal(c.finalAsset, &asset); err != nil {
			return fmt.Errorf("decode final asset: %w", err)
		}
		req.FinalAsset = &asset
	}
	req.ErrorDetails = nil
	if len(c.errorDetails) > 0 && string(c.errorDetails) != "null" {
		if err := json.Unmarshal(c.errorDetails, &req.ErrorDetails); err != nil {
			return fmt.Errorf("decode error details: %w", err)
		}
	}
	return nil
}

func statusStrings(statuses []domain.GenerationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
