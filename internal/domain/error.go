package domain

// ErrorResponse é a estrutura padronizada para respostas de erro na API.
// @Description Estrutura padronizada para respostas de erro na API.
type ErrorResponse struct {
	Code      int    `json:"code" example:"409"`
	Category  string `json:"category" example:"QUOTA_EXCEEDED"`
	Message   string `json:"message" example:"Cota diária excedida: site s1: 10 consumidos + 1 solicitados excedem o máximo diário de 10."`
	Retryable bool   `json:"retryable" example:"false"`
}
