package menuapi

// Status is the server-reported state of image enrichment for a session.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusProcessingImages Status = "processing_images"
	StatusCompleted        Status = "completed"
	StatusError            Status = "error"
)

// IsTerminal returns true for statuses after which polling must stop.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ProcessingStatus is the progress of a session's background image search.
type ProcessingStatus struct {
	Status    Status  `json:"status"`
	Progress  float64 `json:"progress"` // 0..100
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Error     string  `json:"error,omitempty"`
}

// ItemImage is one candidate photo for a menu item.
type ItemImage struct {
	URL             string `json:"url"`
	Source          string `json:"source"` // "pexels", "unsplash", "placeholder", "legacy"
	Photographer    string `json:"photographer,omitempty"`
	PhotographerURL string `json:"photographer_url,omitempty"`
}

// Item is one recognized menu line, optionally matched to a catalog product.
type Item struct {
	Name         string      `json:"name"`
	NameEnglish  string      `json:"nameEnglish,omitempty"`
	Matched      bool        `json:"matched"`
	ImageURL     string      `json:"image_url,omitempty"` // Single image from older backends
	Images       []ItemImage `json:"images,omitempty"`
	Confidence   *float64    `json:"confidence,omitempty"`
	Price        string      `json:"price,omitempty"`
	Description  string      `json:"description,omitempty"`
	ParsingError string      `json:"parsingError,omitempty"`
	ProductID    string      `json:"product_id,omitempty"`
}

// ParseResponse is returned synchronously by POST /parse-image.
type ParseResponse struct {
	SessionID    string `json:"session_id"`
	TotalItems   int    `json:"total_items"`
	MatchedItems int    `json:"matched_items"`
	OCRError     string `json:"ocr_error,omitempty"`
	Items        []Item `json:"items"`
}

// StatusResponse is returned by GET /session/{id}/status.
// Items is nil when the response carried no items field, which callers
// treat as "keep what you have"; an empty list is a real empty result.
type StatusResponse struct {
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	Items            []Item           `json:"items,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Upload is an image to be sent to /parse-image.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}
