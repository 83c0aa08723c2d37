package models

// ReportType is one of the file-based raw data export streams
type ReportType string

const (
	ReportOrderItems       ReportType = "orderItems"
	ReportOrders           ReportType = "orders"
	ReportOrderItemAmounts ReportType = "orderItemAmounts"
)

// ReportTypes lists the export streams in fetch order
var ReportTypes = []ReportType{ReportOrderItems, ReportOrders, ReportOrderItemAmounts}

// Version returns the schema version tag the report endpoint expects for t
func (t ReportType) Version() int {
	switch t {
	case ReportOrderItems:
		return 4
	case ReportOrders:
		return 7
	case ReportOrderItemAmounts:
		return 3
	}
	return 0
}

// FetchCheckpoint is the {type}_metadata.json file kept per (date, report type)
type FetchCheckpoint struct {
	Type           ReportType `json:"type"`
	Date           string     `json:"date"`            // YYYY-MM-DD
	PagesProcessed int        `json:"pages_processed"` // last page written to disk
	Version        int        `json:"version"`
	Completed      bool       `json:"completed"`
	LastUpdate     string     `json:"last_update"`
	Encoding       string     `json:"encoding,omitempty"` // set when a page fell back to latin-1
}

// ProcessedDates is historical_fetch_status.json
type ProcessedDates struct {
	ProcessedDates []string `json:"processed_dates"`
}

// BarcodeDefinition is one entry of /rest/items/barcodes
type BarcodeDefinition struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// BarcodeDefinitionPage is the paged response of /rest/items/barcodes
type BarcodeDefinitionPage struct {
	Page       int                 `json:"page"`
	TotalCount int                 `json:"totalsCount"`
	IsLastPage bool                `json:"isLastPage"`
	Entries    []BarcodeDefinition `json:"entries"`
}

// VariationBarcode links a variation to a code of one barcode group
type VariationBarcode struct {
	BarcodeID int64  `json:"barcodeId"`
	Code      string `json:"code"`
}

// Variation is one entry of /rest/items/variations?with=variationBarcodes
type Variation struct {
	ID                int64              `json:"id"`
	VariationBarcodes []VariationBarcode `json:"variationBarcodes"`
}

// VariationResponse is the paged response of /rest/items/variations
type VariationResponse struct {
	Page           int         `json:"page"`
	TotalsCount    int         `json:"totalsCount"`
	IsLastPage     bool        `json:"isLastPage"`
	LastPageNumber int         `json:"lastPageNumber"`
	Entries        []Variation `json:"entries"`
}

// BarcodeEntry is a variation with its WG1/WG2 codes resolved
type BarcodeEntry struct {
	VariationID int64            `json:"variation_id"`
	WG1         *string          `json:"wg1"`
	WG2         *string          `json:"wg2"`
	AllBarcodes map[int64]string `json:"all_barcodes"` // barcode group id -> code
}

// VariationPage is the parsed result of one variation page
type VariationPage struct {
	Page     int            `json:"page"`
	Entries  []BarcodeEntry `json:"entries"`
	LastPage int            `json:"lastPage"`
	Total    int            `json:"total"`
	Error    string         `json:"error,omitempty"`
}

// VariationBarcodeSummary is all_variation_barcodes.json
type VariationBarcodeSummary struct {
	TotalCount int            `json:"total_count"`
	Timestamp  string         `json:"timestamp"`
	Entries    []BarcodeEntry `json:"entries"`
}

// ExternalDataMetadata is external_data_metadata.json
type ExternalDataMetadata struct {
	URL       string `json:"url"`
	SizeBytes int    `json:"size_bytes"`
	Encoding  string `json:"encoding"`
	Timestamp string `json:"timestamp"`
}

// BearerToken is bearer_token.json
type BearerToken struct {
	TokenType string `json:"token_type"`
	Token     string `json:"token"`
	FullToken string `json:"full_token"`
	Timestamp string `json:"timestamp"`
}
