package evidence

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/logger"
)

// AllowedContentTypes são os formatos de foto aceitos.
var AllowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Upload é uma foto enviada por uma empresa.
type Upload struct {
	CompanyID   string
	ContentType string
	Body        io.Reader
	Size        int64
	TakenAt     time.Time
}

// Store grava as fotos de evidência e devolve a referência usada nos cheques e litígios.
type Store interface {
	Put(ctx context.Context, up Upload) (domain.Photo, error)
}

// Config do armazenamento de objetos.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore grava as fotos num bucket S3 compatível.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger logger.Logger
}

// NewMinioStore cria o cliente; o bucket é criado por EnsureBucket.
func NewMinioStore(cfg Config, log logger.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("falha ao criar cliente MinIO: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, logger: log}, nil
}

// EnsureBucket cria o bucket se ele ainda não existir.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("falha ao verificar o bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("falha ao criar o bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("Bucket de evidências criado.", map[string]interface{}{"bucket": s.bucket})
	return nil
}

func (s *MinioStore) Put(ctx context.Context, up Upload) (domain.Photo, error) {
	key, err := objectKey(up)
	if err != nil {
		return domain.Photo{}, err
	}

	hasher := sha256.New()
	body := io.TeeReader(up.Body, hasher)
	_, err = s.client.PutObject(ctx, s.bucket, key, body, up.Size, minio.PutObjectOptions{
		ContentType: up.ContentType,
		UserMetadata: map[string]string{
			"company-id": up.CompanyID,
			"taken-at":   up.TakenAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		s.logger.Error("Falha ao enviar foto para o MinIO.", err)
		return domain.Photo{}, apperror.NewInternalError("Falha ao gravar a foto de evidência.", err)
	}

	photo := domain.Photo{
		URL:     fmt.Sprintf("s3://%s/%s", s.bucket, key),
		SHA256:  hex.EncodeToString(hasher.Sum(nil)),
		TakenAt: up.TakenAt,
	}
	s.logger.Info("Foto de evidência gravada.", map[string]interface{}{"url": photo.URL, "bytes": up.Size})
	return photo, nil
}

// MemoryStore guarda as fotos em memória (execução local e testes).
type MemoryStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, up Upload) (domain.Photo, error) {
	key, err := objectKey(up)
	if err != nil {
		return domain.Photo{}, err
	}
	data, err := io.ReadAll(up.Body)
	if err != nil {
		return domain.Photo{}, apperror.NewInternalError("Falha ao ler a foto de evidência.", err)
	}
	sum := sha256.Sum256(data)

	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()

	return domain.Photo{
		URL:     fmt.Sprintf("s3://%s/%s", s.bucket, key),
		SHA256:  hex.EncodeToString(sum[:]),
		TakenAt: up.TakenAt,
	}, nil
}

// Object devolve o conteúdo gravado sob a URL.
func (s *MemoryStore) Object(url string) ([]byte, bool) {
	key := strings.TrimPrefix(url, fmt.Sprintf("s3://%s/", s.bucket))
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return bytes.Clone(data), ok
}

// objectKey monta "<empresa>/<AAAA/MM/DD>/<uuid><ext>".
func objectKey(up Upload) (string, error) {
	if strings.TrimSpace(up.CompanyID) == "" {
		return "", apperror.NewValidationError("companyId é obrigatório para enviar evidências.")
	}
	ext, ok := AllowedContentTypes[up.ContentType]
	if !ok {
		return "", apperror.NewValidationError(fmt.Sprintf("tipo de arquivo não aceito: %s", up.ContentType))
	}
	if up.TakenAt.IsZero() {
		return "", apperror.NewValidationError("takenAt é obrigatório.")
	}
	return path.Join(up.CompanyID, up.TakenAt.UTC().Format("2006/01/02"), uuid.New().String()+ext), nil
}
