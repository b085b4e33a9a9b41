package authorization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// Authorizer decides whether an RFID tag may charge on a charger
type Authorizer interface {
	Authorize(ctx context.Context, chargerID string, idTag string) (*types.IdTagInfo, error)
}

// Static accepts every tag
type Static struct{}

func (Static) Authorize(context.Context, string, string) (*types.IdTagInfo, error) {
	return types.NewIdTagInfo(types.AuthorizationStatusAccepted), nil
}

// Client calls the external authorization service
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type authorizeRequest struct {
	RfidHex   string `json:"rfidHex"`
	ChargerID string `json:"chargerId"`
}

type authorizeResponse struct {
	Status         string     `json:"status"`
	CacheExpiresAt *time.Time `json:"cacheExpiresAt,omitempty"`
	ParentIdTag    string     `json:"parentIdTag,omitempty"`
}

func (c *Client) Authorize(ctx context.Context, chargerID string, idTag string) (*types.IdTagInfo, error) {
	body, err := json.Marshal(authorizeRequest{RfidHex: idTag, ChargerID: chargerID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/authorize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authorization service unreachable: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authorization service responded %d: %s", resp.StatusCode, b)
	}

	var res authorizeResponse
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("invalid authorization response: %w", err)
	}

	info := types.NewIdTagInfo(MapStatus(res.Status))
	if res.CacheExpiresAt != nil {
		info.ExpiryDate = types.NewDateTime(*res.CacheExpiresAt)
	}
	info.ParentIdTag = res.ParentIdTag

	return info, nil
}

// MapStatus translates the service status codes to OCPP 1.6.
// Codes without a 1.6 counterpart are reported as Blocked, unknown ones as Invalid.
func MapStatus(status string) types.AuthorizationStatus {
	switch status {
	case "Accepted":
		return types.AuthorizationStatusAccepted
	case "Blocked":
		return types.AuthorizationStatusBlocked
	case "Expired":
		return types.AuthorizationStatusExpired
	case "ConcurrentTx":
		return types.AuthorizationStatusConcurrentTx
	case "Invalid":
		return types.AuthorizationStatusInvalid
	case "NoCredit", "NotAllowedOnThisTypeOfEvse", "NotAtThisLocation", "NotAtThisTime":
		return types.AuthorizationStatusBlocked
	default:
		return types.AuthorizationStatusInvalid
	}
}
