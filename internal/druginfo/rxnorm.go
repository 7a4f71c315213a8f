package druginfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultRxNormBaseURL is the public RxNav REST API.
const DefaultRxNormBaseURL = "https://rxnav.nlm.nih.gov/REST"

const maxInteractions = 5

// RxNormClient resolves names through RxNorm and fetches known interactions.
type RxNormClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRxNormClient creates a client. An empty baseURL uses the public API.
func NewRxNormClient(baseURL string, httpClient *http.Client) *RxNormClient {
	if baseURL == "" {
		baseURL = DefaultRxNormBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &RxNormClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Name implements Source.
func (c *RxNormClient) Name() string { return "rxnorm" }

// Lookup resolves name to an RxCUI. RxNorm cannot confirm FDA approval, so
// records from this source always carry FDAApproved=false.
func (c *RxNormClient) Lookup(ctx context.Context, name string) (*DrugInfo, error) {
	var ids struct {
		IDGroup struct {
			RxNormID []string `json:"rxnormId"`
		} `json:"idGroup"`
	}
	u := fmt.Sprintf("%s/rxcui.json?name=%s&search=2", c.baseURL, url.QueryEscape(strings.TrimSpace(name)))
	found, err := c.get(ctx, u, &ids)
	if err != nil || !found || len(ids.IDGroup.RxNormID) == 0 {
		return nil, err
	}
	rxcui := ids.IDGroup.RxNormID[0]

	var props struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	}
	found, err = c.get(ctx, fmt.Sprintf("%s/rxcui/%s/properties.json", c.baseURL, url.PathEscape(rxcui)), &props)
	if err != nil || !found {
		return nil, err
	}
	resolved := orDefault(props.Properties.Name, name)

	return &DrugInfo{
		Validated:           true,
		BrandName:           resolved,
		GenericName:         resolved,
		Manufacturer:        NotAvailable,
		DrugClass:           NotClassified,
		Indications:         ConsultProvider,
		Contraindications:   ConsultProvider,
		Interactions:        c.interactions(ctx, rxcui),
		StorageInstructions: StoreAsDirected,
		FDAApproved:         false,
		Source:              "rxnorm",
	}, nil
}

// interactions returns up to five interaction descriptions. Failures yield
// an empty list.
func (c *RxNormClient) interactions(ctx context.Context, rxcui string) []string {
	var data struct {
		InteractionTypeGroup []struct {
			InteractionType []struct {
				InteractionPair []struct {
					Description string `json:"description"`
				} `json:"interactionPair"`
			} `json:"interactionType"`
		} `json:"interactionTypeGroup"`
	}
	u := fmt.Sprintf("%s/interaction/interaction.json?rxcui=%s", c.baseURL, url.QueryEscape(rxcui))
	if found, err := c.get(ctx, u, &data); err != nil || !found {
		return nil
	}

	var out []string
	for _, group := range data.InteractionTypeGroup {
		for _, typ := range group.InteractionType {
			for _, pair := range typ.InteractionPair {
				if pair.Description != "" && len(out) < maxInteractions {
					out = append(out, pair.Description)
				}
			}
		}
	}
	return out
}

// get decodes a JSON response into dst. A non-2xx status is reported as
// not found; transport and decode failures are errors.
func (c *RxNormClient) get(ctx context.Context, u string, dst any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("rxnorm: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("rxnorm: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("rxnorm: read response: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return false, fmt.Errorf("rxnorm: unmarshal response: %w", err)
	}
	return true, nil
}
