package schema_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/schema"
)

func TestValidator_IssueCheque(t *testing.T) {
	v, err := schema.NewValidator()
	require.NoError(t, err)

	ok := `{"orderId":"o1","fromCompanyId":"acme","toSiteId":"s1","quantity":10,"palletType":"EUR"}`
	assert.NoError(t, v.Validate(schema.IssueCheque, []byte(ok)))

	// quantidade negativa passa pelo schema: a regra é do domínio (INVALID_QUANTITY)
	neg := `{"orderId":"o1","fromCompanyId":"acme","toSiteId":"s1","quantity":-1,"palletType":"EUR"}`
	assert.NoError(t, v.Validate(schema.IssueCheque, []byte(neg)))

	missing := `{"orderId":"o1","toSiteId":"s1","quantity":10,"palletType":"EUR"}`
	err = v.Validate(schema.IssueCheque, []byte(missing))
	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(err))

	fractional := `{"orderId":"o1","fromCompanyId":"acme","toSiteId":"s1","quantity":1.5,"palletType":"EUR"}`
	assert.Error(t, v.Validate(schema.IssueCheque, []byte(fractional)))

	extra := `{"orderId":"o1","fromCompanyId":"acme","toSiteId":"s1","quantity":1,"palletType":"EUR","status":"RECU"}`
	assert.Error(t, v.Validate(schema.IssueCheque, []byte(extra)))
}

func TestValidator_DepositEvidenceRefs(t *testing.T) {
	v, err := schema.NewValidator()
	require.NoError(t, err)

	ok := `{"siteId":"s1","geolocation":{"lat":48.9,"lng":2.3},"photos":[{"url":"s3://b/k.jpg","takenAt":"2026-03-10T09:00:00Z"}]}`
	assert.NoError(t, v.Validate(schema.Deposit, []byte(ok)))

	badDate := `{"siteId":"s1","photos":[{"url":"s3://b/k.jpg","takenAt":"ontem"}]}`
	assert.Error(t, v.Validate(schema.Deposit, []byte(badDate)))

	badGeo := `{"siteId":"s1","geolocation":{"lat":"norte"}}`
	assert.Error(t, v.Validate(schema.Deposit, []byte(badGeo)))
}

func TestValidator_UpdateQuota(t *testing.T) {
	v, err := schema.NewValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate(schema.UpdateQuota, []byte(`{"dailyMax":20}`)))
	assert.Error(t, v.Validate(schema.UpdateQuota, []byte(`{}`)))
	assert.Error(t, v.Validate(schema.UpdateQuota, []byte(`{"openingHours":{"start":"8h"}}`)))
	assert.Error(t, v.Validate(schema.UpdateQuota, []byte(`{"priority":"VIP"}`)))
}

func TestValidator_InvalidJSONAndUnknownSchema(t *testing.T) {
	v, err := schema.NewValidator()
	require.NoError(t, err)

	err = v.Validate(schema.Escalate, []byte(`{"reason":`))
	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(err))

	err = v.Validate("inexistente", []byte(`{}`))
	assert.Equal(t, apperror.CategoryInternal, apperror.CategoryOf(err))
}

// TestDecodeRequest testa validação e decodificação do corpo num único passo.
func TestDecodeRequest(t *testing.T) {
	v, err := schema.NewValidator()
	require.NoError(t, err)

	body := `{"chequeId":"c1","reason":"paletes quebrados"}`
	req := httptest.NewRequest(http.MethodPost, "/palette/disputes", strings.NewReader(body))
	var open domain.OpenDisputeRequest
	require.NoError(t, v.DecodeRequest(req, schema.OpenDispute, &open))
	assert.Equal(t, "c1", open.ChequeID)
	assert.Equal(t, "paletes quebrados", open.Reason)

	big := httptest.NewRequest(http.MethodPost, "/palette/disputes", strings.NewReader(strings.Repeat(" ", schema.MaxBodyBytes+1)))
	err = v.DecodeRequest(big, schema.OpenDispute, &open)
	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(err))
}
