package pixelbin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/erasebg-relay/internal/jsonutil"
)

const (
	appInfoPath   = "/service/platform/organization/v1.0/apps/info"
	usagePath     = "/service/platform/billing/v1.0/usage"
	signedURLPath = "/service/platform/assets/v2.0/upload/signed-url"

	// AssetDataField is the presigned field carrying the asset description.
	AssetDataField = "x-pixb-meta-assetdata"
)

// AppInfo identifies the organisation a token belongs to.
type AppInfo struct {
	App struct {
		OrgID flexID `json:"orgId"`
	} `json:"app"`
	Org struct {
		CloudName string `json:"cloudName"`
	} `json:"org"`
}

// OrgID returns the organisation id as a string.
func (a AppInfo) OrgID() string { return string(a.App.OrgID) }

// flexID accepts an id encoded as either a JSON number or a string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("orgId: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// Usage is the organisation's credit consumption.
type Usage struct {
	Credits struct {
		Used  float64 `json:"used"`
		Total float64 `json:"total"`
	} `json:"credits"`
}

// SignedURLRequest asks for a presigned upload target.
type SignedURLRequest struct {
	Path             string         `json:"path,omitempty"`
	Name             string         `json:"name,omitempty"`
	Format           string         `json:"format,omitempty"`
	Access           string         `json:"access,omitempty"`
	Tags             []string       `json:"tags"`
	Metadata         map[string]any `json:"metadata"`
	Overwrite        bool           `json:"overwrite"`
	FilenameOverride bool           `json:"filenameOverride"`
	Expiry           int            `json:"expiry,omitempty"`
}

// PresignedURL is an upload target: the URL plus form fields every chunk
// and the completion request must carry.
type PresignedURL struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

// AssetData is the decoded AssetDataField.
type AssetData struct {
	FileID string `json:"fileId"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Format string `json:"format"`
}

// ErrNoAssetData is returned when a presigned target lacks AssetDataField.
var ErrNoAssetData = errors.New("presigned url has no asset data")

// Asset decodes the asset description embedded in the presigned fields.
func (p PresignedURL) Asset() (AssetData, error) {
	raw, ok := p.Fields[AssetDataField]
	if !ok || raw == "" {
		return AssetData{}, ErrNoAssetData
	}
	data, err := jsonutil.ParseObject[AssetData](raw)
	if err != nil {
		return AssetData{}, fmt.Errorf("decode %s: %w", AssetDataField, err)
	}
	if data.FileID == "" {
		return AssetData{}, fmt.Errorf("decode %s: empty fileId", AssetDataField)
	}
	return data, nil
}

// AppInfo returns the organisation identity of the token.
func (c *Client) AppInfo(ctx context.Context) (*AppInfo, error) {
	var info AppInfo
	if err := c.doJSON(ctx, http.MethodGet, appInfoPath, nil, &info); err != nil {
		return nil, fmt.Errorf("get app info: %w", err)
	}
	log.Debug().Str("orgId", info.OrgID()).Str("cloudName", info.Org.CloudName).Msg("Organisation identified")
	return &info, nil
}

// Usage returns current credit usage.
func (c *Client) Usage(ctx context.Context) (*Usage, error) {
	var u Usage
	if err := c.doJSON(ctx, http.MethodGet, usagePath, nil, &u); err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &u, nil
}

// CreateSignedURLV2 requests a presigned upload target.
func (c *Client) CreateSignedURLV2(ctx context.Context, req SignedURLRequest) (*PresignedURL, error) {
	if req.Tags == nil {
		req.Tags = []string{}
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}

	var resp struct {
		PresignedURL PresignedURL `json:"presignedUrl"`
	}
	if err := c.doJSON(ctx, http.MethodPost, signedURLPath, req, &resp); err != nil {
		return nil, fmt.Errorf("create signed url: %w", err)
	}
	if resp.PresignedURL.URL == "" {
		return nil, errors.New("create signed url: response has no url")
	}

	log.Info().Str("name", req.Name).Str("path", req.Path).Msg("Upload target acquired")
	return &resp.PresignedURL, nil
}
