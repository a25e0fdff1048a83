package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/clock"
	evidencestore "paletteledger/internal/pkg/evidence"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/pkg/middleware"
	"paletteledger/internal/pkg/respond"
)

// multipartOverhead cobre os cabeçalhos e os campos de texto do formulário.
const multipartOverhead = 64 << 10

// PhotoStore grava a foto e devolve a referência.
type PhotoStore interface {
	Put(ctx context.Context, up evidencestore.Upload) (domain.Photo, error)
}

// PhotoResponse envelopa a referência gravada.
type PhotoResponse struct {
	Photo domain.Photo `json:"photo"`
}

// Handler recebe os uploads de fotos de evidência.
type Handler struct {
	Store    PhotoStore
	Clock    clock.Clock
	MaxBytes int64
	Logger   logger.Logger
}

func NewHandler(store PhotoStore, clk clock.Clock, maxBytes int64, log logger.Logger) *Handler {
	return &Handler{
		Store:    store,
		Clock:    clk,
		MaxBytes: maxBytes,
		Logger:   log,
	}
}

// UploadPhotoHandler lida com a requisição POST /palette/evidence.
// A URL devolvida é usada nos campos photos do depósito, da recepção e do litígio.
// @Summary Envia uma foto de evidência
// @Tags evidence
// @Accept multipart/form-data
// @Produce json
// @Param photo formData file true "Foto (JPEG, PNG ou WebP)"
// @Param takenAt formData string false "Data da captura (RFC 3339)"
// @Param companyId formData string false "Empresa dona da foto (apenas administradores)"
// @Success 201 {object} PhotoResponse "Foto gravada"
// @Failure 400 {object} domain.ErrorResponse "Arquivo ausente, grande demais ou de tipo não aceito"
// @Security ApiKeyAuth
// @Router /palette/evidence [post]
func (h *Handler) UploadPhotoHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(w, r, h.Logger, apperror.NewValidationError(fmt.Sprintf("a foto excede %d bytes.", h.MaxBytes)))
			return
		}
		respond.Error(w, r, h.Logger, apperror.NewValidationError("formulário multipart inválido."))
		return
	}
	defer r.MultipartForm.RemoveAll()

	companyID := identity.CompanyID
	if requested := r.FormValue("companyId"); requested != "" {
		if !identity.ActsFor(requested) {
			respond.Error(w, r, h.Logger, apperror.NewForbiddenError(fmt.Sprintf("o chamador não envia evidências de %s.", requested)))
			return
		}
		companyID = requested
	}

	takenAt := h.Clock.Now()
	if raw := r.FormValue("takenAt"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respond.Error(w, r, h.Logger, apperror.NewValidationError(fmt.Sprintf("takenAt inválido: %s", raw)))
			return
		}
		takenAt = parsed
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		respond.Error(w, r, h.Logger, apperror.NewValidationError("o campo photo é obrigatório."))
		return
	}
	defer file.Close()
	if header.Size > h.MaxBytes {
		respond.Error(w, r, h.Logger, apperror.NewValidationError(fmt.Sprintf("a foto excede %d bytes.", h.MaxBytes)))
		return
	}

	// O tipo vem do conteúdo, não do cabeçalho enviado pelo cliente.
	sniff := make([]byte, 512)
	n, err := io.ReadFull(file, sniff)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		respond.Error(w, r, h.Logger, apperror.NewValidationError("falha ao ler a foto."))
		return
	}
	sniff = sniff[:n]

	photo, err := h.Store.Put(r.Context(), evidencestore.Upload{
		CompanyID:   companyID,
		ContentType: http.DetectContentType(sniff),
		Body:        io.MultiReader(bytes.NewReader(sniff), file),
		Size:        header.Size,
		TakenAt:     takenAt,
	})
	respond.Service(w, r, h.Logger, PhotoResponse{Photo: photo}, err, http.StatusCreated)
}
