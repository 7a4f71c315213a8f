package druginfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultOpenFDABaseURL is the public OpenFDA API.
	DefaultOpenFDABaseURL = "https://api.fda.gov"
	defaultHTTPTimeout    = 10 * time.Second
)

// OpenFDAClient searches OpenFDA drug labels.
type OpenFDAClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOpenFDAClient creates a client. An empty baseURL uses the public API.
func NewOpenFDAClient(baseURL string, httpClient *http.Client) *OpenFDAClient {
	if baseURL == "" {
		baseURL = DefaultOpenFDABaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &OpenFDAClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Name implements Source.
func (c *OpenFDAClient) Name() string { return "openfda" }

type labelResponse struct {
	Results []drugLabel `json:"results"`
}

type drugLabel struct {
	OpenFDA struct {
		BrandName        []string `json:"brand_name"`
		GenericName      []string `json:"generic_name"`
		ManufacturerName []string `json:"manufacturer_name"`
		PharmClassEPC    []string `json:"pharm_class_epc"`
		PharmClassMOA    []string `json:"pharm_class_moa"`
		SubstanceName    []string `json:"substance_name"`
		DosageForm       []string `json:"dosage_form"`
		Route            []string `json:"route"`
	} `json:"openfda"`
	Warnings            []string `json:"warnings"`
	BoxedWarning        []string `json:"boxed_warning"`
	IndicationsAndUsage []string `json:"indications_and_usage"`
	Contraindications   []string `json:"contraindications"`
	AdverseReactions    []string `json:"adverse_reactions"`
	DrugInteractions    []string `json:"drug_interactions"`
	StorageAndHandling  []string `json:"storage_and_handling"`
}

// Lookup searches by brand, generic and substance name in that order and
// returns the first label found. It returns an error only when every query
// failed for reasons other than "no match".
func (c *OpenFDAClient) Lookup(ctx context.Context, name string) (*DrugInfo, error) {
	clean := strings.ToLower(strings.TrimSpace(name))
	queries := []string{
		fmt.Sprintf(`openfda.brand_name:"%s"`, clean),
		fmt.Sprintf(`openfda.generic_name:"%s"`, clean),
		fmt.Sprintf(`openfda.substance_name:"%s"`, clean),
	}

	var errs []error
	for _, q := range queries {
		label, err := c.search(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		if label != nil {
			return label.toDrugInfo(name), nil
		}
	}
	if len(errs) == len(queries) {
		return nil, fmt.Errorf("openfda: %w", errors.Join(errs...))
	}
	return nil, nil
}

func (c *OpenFDAClient) search(ctx context.Context, query string) (*drugLabel, error) {
	u := fmt.Sprintf("%s/drug/label.json?search=%s&limit=1", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search labels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out labelResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	return &out.Results[0], nil
}

func (l *drugLabel) toDrugInfo(name string) *DrugInfo {
	o := l.OpenFDA
	warnings := extractSection(l.Warnings)
	if len(warnings) == 0 {
		warnings = extractSection(l.BoxedWarning)
	}
	return &DrugInfo{
		Validated:           true,
		BrandName:           orDefault(first(o.BrandName), name),
		GenericName:         orDefault(first(o.GenericName), NotAvailable),
		Manufacturer:        orDefault(first(o.ManufacturerName), NotAvailable),
		DrugClass:           orDefault(orDefault(first(o.PharmClassEPC), first(o.PharmClassMOA)), NotClassified),
		ActiveIngredients:   o.SubstanceName,
		DosageForms:         o.DosageForm,
		Route:               o.Route,
		Warnings:            warnings,
		Indications:         orDefault(extractText(l.IndicationsAndUsage), SeePackageInsert),
		Contraindications:   orDefault(extractText(l.Contraindications), SeePackageInsert),
		SideEffects:         extractSection(l.AdverseReactions),
		Interactions:        extractSection(l.DrugInteractions),
		StorageInstructions: orDefault(extractText(l.StorageAndHandling), StoreAsDirected),
		FDAApproved:         true,
		Source:              "openfda",
	}
}
