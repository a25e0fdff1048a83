package evidence_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/evidence"
)

func TestMemoryStore_Put(t *testing.T) {
	store := evidence.NewMemoryStore("palette-evidence")
	body := "\x89PNG fake"
	takenAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	photo, err := store.Put(context.Background(), evidence.Upload{
		CompanyID:   "depot",
		ContentType: "image/png",
		Body:        strings.NewReader(body),
		Size:        int64(len(body)),
		TakenAt:     takenAt,
	})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(photo.URL, "s3://palette-evidence/depot/2026/03/10/"))
	assert.True(t, strings.HasSuffix(photo.URL, ".png"))
	sum := sha256.Sum256([]byte(body))
	assert.Equal(t, hex.EncodeToString(sum[:]), photo.SHA256)
	assert.Equal(t, takenAt, photo.TakenAt)

	data, ok := store.Object(photo.URL)
	require.True(t, ok)
	assert.Equal(t, body, string(data))
}

func TestMemoryStore_RejectsUnknownType(t *testing.T) {
	store := evidence.NewMemoryStore("b")

	_, err := store.Put(context.Background(), evidence.Upload{
		CompanyID:   "depot",
		ContentType: "application/pdf",
		Body:        strings.NewReader("x"),
		TakenAt:     time.Now(),
	})

	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(err))
}
