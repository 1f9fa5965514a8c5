package nlp

import "github.com/placefinder/querycore/common/llm"

// Response shapes the model is constrained to. Each one is reflected into
// a JSON schema handed to the provider adapter, so parsing is a plain
// unmarshal with enum validation on top.

type intentResponse struct {
	Intent     string  `json:"intent" jsonschema:"enum=search,enum=book,enum=compare,enum=review,enum=directions,enum=unknown"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

type categoryResponse struct {
	Category     string   `json:"category"`
	Confidence   float64  `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Alternatives []string `json:"alternatives"`
}

type entitiesResponse struct {
	Locations     []string `json:"locations"`
	BusinessNames []string `json:"business_names"`
	Times         []string `json:"times"`
	Prices        []string `json:"prices"`
	Features      []string `json:"features"`
	Confidence    float64  `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

var (
	intentSchema   = llm.GenerateSchema[intentResponse]()
	categorySchema = llm.GenerateSchema[categoryResponse]()
	entitiesSchema = llm.GenerateSchema[entitiesResponse]()
)
