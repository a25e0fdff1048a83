package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError é a interface central para todos os erros customizados do serviço de paletes.
// Ela permite que o código externo (Handler) acesse a Categoria e a Mensagem do erro.
type AppError interface {
	Error() string    // Implementa a interface error padrão do Go
	Category() string // Categoria estável do erro (e.g., "QUOTA_EXCEEDED", "NOT_FOUND")
	HTTPStatus() int  // Código HTTP sugerido para o Handler
	Retryable() bool  // O chamador pode reler o estado e tentar novamente
	Unwrap() error    // Permite encapsular erros subjacentes (original error)
}

// Categorias expostas aos clientes. Não renomear: o front-end depende delas.
const (
	CategoryValidation             = "VALIDATION_ERROR"
	CategoryInvalidQuantity        = "INVALID_QUANTITY"
	CategoryInvalidState           = "INVALID_STATE"
	CategoryNotFound               = "NOT_FOUND"
	CategoryQuotaExceeded          = "QUOTA_EXCEEDED"
	CategoryOutsideOperatingWindow = "OUTSIDE_OPERATING_WINDOW"
	CategoryDuplicateDispute       = "DUPLICATE_DISPUTE"
	CategoryConcurrentModification = "CONCURRENT_MODIFICATION"
	CategoryUnauthorized           = "UNAUTHORIZED"
	CategoryForbidden              = "FORBIDDEN"
	CategoryRateLimited            = "RATE_LIMITED"
	CategoryInternal               = "INTERNAL_ERROR"
	CategoryUnknown                = "UNKNOWN_ERROR"
)

// --- Tipos de Erro Específicos (Erros de Domínio) ---

// ValidationError representa falhas de validação de dados de entrada.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string    { return fmt.Sprintf("Erro de Validação: %s", e.Msg) }
func (e *ValidationError) Category() string { return CategoryValidation }
func (e *ValidationError) HTTPStatus() int  { return http.StatusBadRequest } // 400
func (e *ValidationError) Retryable() bool  { return false }
func (e *ValidationError) Unwrap() error    { return nil }

// NewValidationError cria um novo erro de validação.
func NewValidationError(msg string) AppError {
	return &ValidationError{Msg: msg}
}

// InvalidQuantityError é retornado quando uma quantidade de paletes é inválida (<= 0 na emissão, < 0 na recepção).
type InvalidQuantityError struct {
	Msg string
}

func (e *InvalidQuantityError) Error() string    { return fmt.Sprintf("Quantidade inválida: %s", e.Msg) }
func (e *InvalidQuantityError) Category() string { return CategoryInvalidQuantity }
func (e *InvalidQuantityError) HTTPStatus() int  { return http.StatusBadRequest }
func (e *InvalidQuantityError) Retryable() bool  { return false }
func (e *InvalidQuantityError) Unwrap() error    { return nil }

// NewInvalidQuantityError cria um erro de quantidade inválida.
func NewInvalidQuantityError(msg string) AppError {
	return &InvalidQuantityError{Msg: msg}
}

// InvalidStateError representa uma transição de estado ilegal (cheque ou litígio).
type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string    { return fmt.Sprintf("Estado inválido: %s", e.Msg) }
func (e *InvalidStateError) Category() string { return CategoryInvalidState }
func (e *InvalidStateError) HTTPStatus() int  { return http.StatusConflict }
func (e *InvalidStateError) Retryable() bool  { return false }
func (e *InvalidStateError) Unwrap() error    { return nil }

// NewInvalidStateError cria um erro de transição ilegal.
func NewInvalidStateError(msg string) AppError {
	return &InvalidStateError{Msg: msg}
}

// NotFoundError representa a ausência de um recurso solicitado.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string    { return fmt.Sprintf("Recurso não encontrado: %s", e.Msg) }
func (e *NotFoundError) Category() string { return CategoryNotFound }
func (e *NotFoundError) HTTPStatus() int  { return http.StatusNotFound } // 404
func (e *NotFoundError) Retryable() bool  { return false }
func (e *NotFoundError) Unwrap() error    { return nil }

// NewNotFoundError cria um novo erro de recurso não encontrado.
func NewNotFoundError(msg string) AppError {
	return &NotFoundError{Msg: msg}
}

// QuotaExceededError é retornado quando um depósito ultrapassaria a cota diária do site.
type QuotaExceededError struct {
	Msg string
}

func (e *QuotaExceededError) Error() string    { return fmt.Sprintf("Cota diária excedida: %s", e.Msg) }
func (e *QuotaExceededError) Category() string { return CategoryQuotaExceeded }
func (e *QuotaExceededError) HTTPStatus() int  { return http.StatusConflict }
func (e *QuotaExceededError) Retryable() bool  { return false }
func (e *QuotaExceededError) Unwrap() error    { return nil }

// NewQuotaExceededError cria um erro de cota excedida.
func NewQuotaExceededError(msg string) AppError {
	return &QuotaExceededError{Msg: msg}
}

// OutsideOperatingWindowError é retornado quando o depósito cai fora do horário ou dos dias de abertura do site.
type OutsideOperatingWindowError struct {
	Msg string
}

func (e *OutsideOperatingWindowError) Error() string {
	return fmt.Sprintf("Fora da janela de funcionamento: %s", e.Msg)
}
func (e *OutsideOperatingWindowError) Category() string { return CategoryOutsideOperatingWindow }
func (e *OutsideOperatingWindowError) HTTPStatus() int  { return http.StatusConflict }
func (e *OutsideOperatingWindowError) Retryable() bool  { return false }
func (e *OutsideOperatingWindowError) Unwrap() error    { return nil }

// NewOutsideOperatingWindowError cria um erro de janela de funcionamento.
func NewOutsideOperatingWindowError(msg string) AppError {
	return &OutsideOperatingWindowError{Msg: msg}
}

// DuplicateDisputeError é retornado quando já existe um litígio ativo (OPEN/PROPOSED) para o cheque.
type DuplicateDisputeError struct {
	Msg string
}

func (e *DuplicateDisputeError) Error() string    { return fmt.Sprintf("Litígio duplicado: %s", e.Msg) }
func (e *DuplicateDisputeError) Category() string { return CategoryDuplicateDispute }
func (e *DuplicateDisputeError) HTTPStatus() int  { return http.StatusConflict }
func (e *DuplicateDisputeError) Retryable() bool  { return false }
func (e *DuplicateDisputeError) Unwrap() error    { return nil }

// NewDuplicateDisputeError cria um erro de litígio duplicado.
func NewDuplicateDisputeError(msg string) AppError {
	return &DuplicateDisputeError{Msg: msg}
}

// ConflictError representa uma modificação concorrente detectada pelo controle otimista (OCC).
// É o único erro que o chamador deve tratar como "reler e tentar novamente".
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string    { return fmt.Sprintf("Conflito de estado: %s", e.Msg) }
func (e *ConflictError) Category() string { return CategoryConcurrentModification }
func (e *ConflictError) HTTPStatus() int  { return http.StatusConflict } // 409
func (e *ConflictError) Retryable() bool  { return true }
func (e *ConflictError) Unwrap() error    { return nil }

// NewConflictError cria um novo erro de conflito (usado em OCC).
func NewConflictError(msg string) AppError {
	return &ConflictError{Msg: msg}
}

// UnauthorizedError representa falha de autenticação (token ausente, inválido ou expirado).
type UnauthorizedError struct {
	Msg string
}

func (e *UnauthorizedError) Error() string    { return fmt.Sprintf("Não autorizado: %s", e.Msg) }
func (e *UnauthorizedError) Category() string { return CategoryUnauthorized }
func (e *UnauthorizedError) HTTPStatus() int  { return http.StatusUnauthorized } // 401
func (e *UnauthorizedError) Retryable() bool  { return false }
func (e *UnauthorizedError) Unwrap() error    { return nil }

// NewUnauthorizedError cria um erro de autenticação.
func NewUnauthorizedError(msg string) AppError {
	return &UnauthorizedError{Msg: msg}
}

// ForbiddenError representa uma identidade válida sem permissão para a operação.
type ForbiddenError struct {
	Msg string
}

func (e *ForbiddenError) Error() string    { return fmt.Sprintf("Acesso negado: %s", e.Msg) }
func (e *ForbiddenError) Category() string { return CategoryForbidden }
func (e *ForbiddenError) HTTPStatus() int  { return http.StatusForbidden } // 403
func (e *ForbiddenError) Retryable() bool  { return false }
func (e *ForbiddenError) Unwrap() error    { return nil }

// NewForbiddenError cria um erro de permissão.
func NewForbiddenError(msg string) AppError {
	return &ForbiddenError{Msg: msg}
}

// RateLimitedError indica que o chamador excedeu o limite de requisições da janela.
type RateLimitedError struct {
	Msg string
}

func (e *RateLimitedError) Error() string    { return fmt.Sprintf("Limite de requisições: %s", e.Msg) }
func (e *RateLimitedError) Category() string { return CategoryRateLimited }
func (e *RateLimitedError) HTTPStatus() int  { return http.StatusTooManyRequests } // 429
func (e *RateLimitedError) Retryable() bool  { return true }
func (e *RateLimitedError) Unwrap() error    { return nil }

func NewRateLimitedError(msg string) AppError {
	return &RateLimitedError{Msg: msg}
}

// --- Tipos de Erro de Infraestrutura (Encapsulamento) ---

// InternalError representa falhas inesperadas no servidor, serviço ou repositório.
type InternalError struct {
	Msg string
	Err error // Erro original subjacente (e.g., erro do driver SQL)
}

func (e *InternalError) Error() string    { return fmt.Sprintf("Erro Interno: %s", e.Msg) }
func (e *InternalError) Category() string { return CategoryInternal }
func (e *InternalError) HTTPStatus() int  { return http.StatusInternalServerError } // 500
func (e *InternalError) Retryable() bool  { return false }
func (e *InternalError) Unwrap() error    { return e.Err }

// NewInternalError cria um erro de servidor (para falhas de lógica ou código não esperado).
func NewInternalError(msg string, err error) AppError {
	return &InternalError{Msg: msg, Err: err}
}

// NewDBError é um atalho para criar um InternalError específico de falhas no DB.
func NewDBError(msg string, err error) AppError {
	return NewInternalError(fmt.Sprintf("%s (DB): %s", msg, err.Error()), err)
}

// --- Helpers ---

// AsAppError procura um AppError na cadeia de erros.
func AsAppError(err error) (AppError, bool) {
	var appErr AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CategoryOf devolve a categoria estável do erro, ou CategoryUnknown.
func CategoryOf(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Category()
	}
	return CategoryUnknown
}

// IsRetryable indica se o chamador pode reler o estado e tentar novamente.
func IsRetryable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable()
	}
	return false
}

// IsDomainError indica se o erro já é um erro tipado que deve ser propagado como está.
// Erros internos não contam: os serviços os reembalam com contexto.
func IsDomainError(err error) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	_, internal := appErr.(*InternalError)
	return !internal
}

// MapToHTTPStatus recebe um erro e o traduz para o código HTTP e corpo de resposta.
func MapToHTTPStatus(err error) (int, string, string) {
	if appErr, ok := AsAppError(err); ok {
		if appErr.HTTPStatus() >= http.StatusInternalServerError {
			// Não vazamos detalhes do driver para o cliente.
			return appErr.HTTPStatus(), appErr.Category(), "Ocorreu um erro interno. Tente novamente mais tarde."
		}
		return appErr.HTTPStatus(), appErr.Category(), appErr.Error()
	}

	// Erro não tipado (e.g., erro simples de pacote Go que não implementa AppError)
	return http.StatusInternalServerError, CategoryUnknown, "Ocorreu um erro inesperado."
}
