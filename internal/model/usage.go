package model

import "time"

// UsageRecord is one immutable language-model call in the cost ledger.
type UsageRecord struct {
	ID           string    `json:"id"`
	ModelName    string    `json:"model_name"`
	Provider     string    `json:"provider"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	InputCost    float64   `json:"input_cost"`
	OutputCost   float64   `json:"output_cost"`
	TotalCost    float64   `json:"total_cost"`
	RequestType  string    `json:"request_type"`
	Component    string    `json:"component"`
	LatencyMS    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ErrorType    string    `json:"error_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Budget is the monthly spend envelope. The ledger reads it and never changes it.
type Budget struct {
	MonthlyBudget  float64 `yaml:"monthly_budget" mapstructure:"monthly_budget" json:"monthly_budget"`
	AlertThreshold float64 `yaml:"alert_threshold" mapstructure:"alert_threshold" json:"alert_threshold"`
}
