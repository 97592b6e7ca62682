package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/models"
	"github.com/emberpeak/countflow_backend/utils"
	"github.com/shopspring/decimal"
)

// SquareProvider reads catalog and inventory from the Square API. It is
// strictly read-only; SQUARE_READ_ONLY=true must be set as a guard against
// wiring write-capable credentials into the count flow.
type SquareProvider struct {
	baseURL string
	token   string
	version string
	http    *http.Client
}

func NewSquareProvider() (*SquareProvider, error) {
	token := strings.TrimSpace(os.Getenv("SQUARE_ACCESS_TOKEN"))
	if token == "" {
		return nil, errors.New("SQUARE_ACCESS_TOKEN is required when SNAPSHOT_PROVIDER=square")
	}
	if strings.ToLower(strings.TrimSpace(os.Getenv("SQUARE_READ_ONLY"))) != "true" {
		return nil, errors.New("square provider is read-only only, set SQUARE_READ_ONLY=true")
	}

	baseURL := strings.TrimSpace(os.Getenv("SQUARE_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://connect.squareup.com"
	}
	timeoutSeconds := 30
	if v := strings.TrimSpace(os.Getenv("SQUARE_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeoutSeconds = n
		}
	}

	return &SquareProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		version: strings.TrimSpace(os.Getenv("SQUARE_API_VERSION")),
		http:    &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}, nil
}

func (p *SquareProvider) post(ctx context.Context, path string, payload map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")
	if p.version != "" {
		req.Header.Set("Square-Version", p.version)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: square request %s: %v", utils.ErrorUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: square response %s: %v", utils.ErrorUpstreamUnavailable, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: square api %d on %s: %s", utils.ErrorUpstreamUnavailable, resp.StatusCode, path, string(raw))
	}

	var envelope struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Errors) > 0 {
		return fmt.Errorf("%w: square api errors on %s", utils.ErrorUpstreamUnavailable, path)
	}
	return json.Unmarshal(raw, out)
}

type squareCatalogObject struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	CategoryData struct {
		Name string `json:"name"`
	} `json:"category_data"`
}

type squareCatalogItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ItemData struct {
		Name              string `json:"name"`
		ReportingCategory struct {
			ID string `json:"id"`
		} `json:"reporting_category"`
		Variations []struct {
			ID                string `json:"id"`
			ItemVariationData struct {
				Sku  string `json:"sku"`
				Name string `json:"name"`
			} `json:"item_variation_data"`
		} `json:"variations"`
	} `json:"item_data"`
}

func (p *SquareProvider) fetchCategoriesById(ctx context.Context) (map[string]string, error) {
	categories := map[string]string{}
	cursor := ""
	for {
		payload := map[string]interface{}{
			"object_types":            []string{"CATEGORY"},
			"include_deleted_objects": false,
			"limit":                   100,
		}
		if cursor != "" {
			payload["cursor"] = cursor
		}
		var response struct {
			Objects []squareCatalogObject `json:"objects"`
			Cursor  string                `json:"cursor"`
		}
		if err := p.post(ctx, "/v2/catalog/search", payload, &response); err != nil {
			return nil, err
		}
		for _, obj := range response.Objects {
			if obj.Type != "CATEGORY" || obj.ID == "" || obj.CategoryData.Name == "" {
				continue
			}
			categories[obj.ID] = strings.TrimSpace(obj.CategoryData.Name)
		}
		cursor = response.Cursor
		if cursor == "" {
			break
		}
	}
	return categories, nil
}

// campaignFilters normalizes a campaign's category and brand filters. A
// trailing " rotation" suffix on the category label is display noise and is
// stripped before matching.
func campaignFilters(campaign *models.Campaign) (string, string) {
	category := strings.ToLower(strings.TrimSpace(campaign.CategoryFilter))
	category = strings.TrimSpace(strings.TrimSuffix(category, " rotation"))
	brand := strings.ToLower(strings.TrimSpace(campaign.BrandFilter))
	return category, brand
}

func (p *SquareProvider) ListCountItems(ctx context.Context, storeId int, campaignId int) ([]CountItem, error) {
	if _, err := models.GetStore(ctx, storeId); err != nil {
		return nil, err
	}
	campaign, err := models.GetCampaign(ctx, campaignId)
	if err != nil {
		return nil, err
	}
	categoryFilter, brandFilter := campaignFilters(campaign)

	categoriesById, err := p.fetchCategoriesById(ctx)
	if err != nil {
		return nil, err
	}

	var items []squareCatalogItem
	cursor := ""
	for {
		payload := map[string]interface{}{"limit": 100}
		if cursor != "" {
			payload["cursor"] = cursor
		}
		var response struct {
			Items  []squareCatalogItem `json:"items"`
			Cursor string              `json:"cursor"`
		}
		if err := p.post(ctx, "/v2/catalog/search-catalog-items", payload, &response); err != nil {
			return nil, err
		}
		items = append(items, response.Items...)
		cursor = response.Cursor
		if cursor == "" {
			break
		}
	}

	var results []CountItem
	seen := map[string]bool{}
	for _, item := range items {
		itemName := item.ItemData.Name
		if itemName == "" {
			itemName = item.Name
		}
		categoryName := strings.TrimSpace(categoriesById[item.ItemData.ReportingCategory.ID])
		searchableText := strings.ToLower(itemName + " " + categoryName)

		if categoryFilter != "" && strings.ToLower(categoryName) != categoryFilter {
			continue
		}
		if brandFilter != "" && !strings.Contains(searchableText, brandFilter) {
			continue
		}

		for _, variation := range item.ItemData.Variations {
			if variation.ID == "" || seen[variation.ID] {
				continue
			}
			variationName := variation.ItemVariationData.Name
			if variationName == "" {
				variationName = "Default"
			}
			results = append(results, CountItem{
				VariationId:          variation.ID,
				Sku:                  variation.ItemVariationData.Sku,
				ItemName:             itemName,
				VariationName:        variationName,
				SourceCatalogVersion: "square-live-read",
			})
			seen[variation.ID] = true
		}
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: square catalog returned no countable variations for campaign %d", utils.ErrorUpstreamUnavailable, campaignId)
	}
	return results, nil
}

func (p *SquareProvider) FetchCurrentOnHand(ctx context.Context, storeId int, variationIds []string) (map[string]decimal.Decimal, error) {
	store, err := models.GetStore(ctx, storeId)
	if err != nil {
		return nil, err
	}
	if store.PosLocationId == "" {
		return nil, fmt.Errorf("store %d is missing a pos location id", storeId)
	}

	values := make(map[string]decimal.Decimal, len(variationIds))
	for _, variationId := range variationIds {
		values[variationId] = decimal.Zero
	}
	if len(variationIds) == 0 {
		return values, nil
	}

	const batchSize = 100
	for start := 0; start < len(variationIds); start += batchSize {
		end := min(start+batchSize, len(variationIds))
		chunk := variationIds[start:end]

		cursor := ""
		for {
			payload := map[string]interface{}{
				"catalog_object_ids": chunk,
				"location_ids":       []string{store.PosLocationId},
				"states":             []string{"IN_STOCK"},
				"limit":              100,
			}
			if cursor != "" {
				payload["cursor"] = cursor
			}
			var response struct {
				Counts []struct {
					CatalogObjectId string `json:"catalog_object_id"`
					Quantity        string `json:"quantity"`
				} `json:"counts"`
				Cursor string `json:"cursor"`
			}
			if err := p.post(ctx, "/v2/inventory/batch-retrieve-counts", payload, &response); err != nil {
				return nil, err
			}
			for _, count := range response.Counts {
				if _, ok := values[count.CatalogObjectId]; !ok {
					continue
				}
				qty, err := decimal.NewFromString(count.Quantity)
				if err != nil {
					config.LogError(config.GetLogger(), "square.go", "FetchCurrentOnHand", "parse quantity", count, err)
					continue
				}
				values[count.CatalogObjectId] = qty
			}
			cursor = response.Cursor
			if cursor == "" {
				break
			}
		}
	}
	return values, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
