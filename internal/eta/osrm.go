package eta

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// OSRMClient performs route/eta lookups against an OSRM HTTP server.
// Profile selects the routing mode OSRM should use; every dispatch
// candidate today is a car, so it defaults to "driving", but the field is
// exposed for a future motorcycle/bike fleet to reuse this same client.
type OSRMClient struct {
	Endpoint string
	Profile  string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Profile: "driving", Client: &http.Client{Timeout: 2 * time.Second}}
}

// EstimateSeconds queries OSRM /route between points and returns duration
// in seconds. A non-2xx response or an OSRM-level routing failure ("code"
// other than "Ok") is reported with the endpoint attached, since a
// misconfigured ETA_OSRM_ENDPOINT otherwise surfaces as an opaque decode
// error far from where the mistake was made.
func (o *OSRMClient) EstimateSeconds(from models.Coordinate, to models.Coordinate) (float64, error) {
	profile := o.Profile
	if profile == "" {
		profile = "driving"
	}
	url := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=false", o.Endpoint, profile, from.Lng, from.Lat, to.Lng, to.Lat)
	resp, err := o.Client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("osrm request to %s: %w", o.Endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("osrm request to %s: unexpected status %d", o.Endpoint, resp.StatusCode)
	}
	var out struct {
		Routes []struct {
			Duration float64 `json:"duration"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("osrm response from %s: %w", o.Endpoint, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return 0, fmt.Errorf("osrm no route from %s: %v", o.Endpoint, out.Code)
	}
	return out.Routes[0].Duration, nil
}
