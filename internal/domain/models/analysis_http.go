package models

// Requests for the analysis HTTP endpoints. Defined in domain for consistency and reuse.

type AnalysisRequest struct {
	City    string  `query:"city" json:"city" default:"NYC" validate:"required"`
	Date    string  `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
	MinEdge float64 `query:"min_edge" json:"min_edge" default:"0.08" validate:"gte=0,lte=0.9"`
}

type ForecastsRequest struct {
	City string `query:"city" json:"city" default:"NYC" validate:"required"`
	Date string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type BracketsRequest struct {
	City string `query:"city" json:"city" default:"NYC" validate:"required"`
	Date string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type SignalsRequest struct {
	City  string `query:"city" json:"city" default:"NYC" validate:"required"`
	Date  string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
	Limit int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type SettlementsRequest struct {
	City string `query:"city" json:"city" default:"NYC" validate:"required"`
	Date string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
	Days int    `query:"days" json:"days" default:"7" validate:"gte=1,lte=30"`
}

type MarketStatusRequest struct {
	City string `query:"city" json:"city" validate:"omitempty"`
}
