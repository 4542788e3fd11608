package api

import (
	"time"

	"github.com/platinummonkey/featurestore/pkg/features"
)

// SourcePredictionService is the only request source allowed to write
const SourcePredictionService = "prediction_service"

// RequestMeta identifies the caller of a request
type RequestMeta struct {
	Source    string  `json:"source"`
	ComputeID *string `json:"compute_id,omitempty"`
}

// WriteData is the payload of a write request
type WriteData struct {
	EntityType  string                 `json:"entity_type"`
	EntityValue string                 `json:"entity_value"`
	Category    string                 `json:"category"`
	Features    map[string]interface{} `json:"features"`
}

// WriteRequest is the body of POST /items
type WriteRequest struct {
	Meta RequestMeta `json:"meta"`
	Data WriteData   `json:"data"`
}

// WriteResponse acknowledges a write
type WriteResponse struct {
	Message      string `json:"message"`
	EntityValue  string `json:"entity_value"`
	EntityType   string `json:"entity_type"`
	Category     string `json:"category"`
	FeatureCount int    `json:"feature_count"`
}

// ReadData is the payload of a batch read request
type ReadData struct {
	EntityType  string   `json:"entity_type"`
	EntityValue string   `json:"entity_value"`
	FeatureList []string `json:"feature_list"`
}

// ReadRequest is the body of POST /get/items
type ReadRequest struct {
	Meta RequestMeta `json:"meta"`
	Data ReadData    `json:"data"`
}

// ItemResponse is a single category read
type ItemResponse struct {
	EntityValue string                 `json:"entity_value"`
	EntityType  string                 `json:"entity_type"`
	Category    string                 `json:"category"`
	Data        map[string]interface{} `json:"data"`
	Metadata    features.Metadata      `json:"metadata"`
}

// ItemsResponse is a multi category read. Items and
// UnavailableCategories are never null.
type ItemsResponse struct {
	EntityValue           string                   `json:"entity_value"`
	EntityType            string                   `json:"entity_type"`
	Items                 map[string]features.Item `json:"items"`
	UnavailableCategories []string                 `json:"unavailable_categories"`
}

// HealthResponse reports store connectivity
type HealthResponse struct {
	Status             string    `json:"status"`
	DynamoDBConnection bool      `json:"dynamodb_connection"`
	TablesAvailable    []string  `json:"tables_available"`
	Timestamp          time.Time `json:"timestamp"`
}
