package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	apperror "paletteledger/internal/errors"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const baseURL = "https://paletteledger.local/schemas/"

// MaxBodyBytes é o tamanho máximo de um corpo JSON.
const MaxBodyBytes = 1 << 20

// Nomes dos schemas de payload.
const (
	IssueCheque      = "issue_cheque"
	Deposit          = "deposit"
	Receipt          = "receipt"
	CreateSite       = "create_site"
	UpdateQuota      = "update_quota"
	OpenDispute      = "open_dispute"
	ProposeSolution  = "propose_solution"
	Escalate         = "escalate"
	LedgerAdjustment = "ledger_adjustment"
)

// Validator valida os corpos das requisições contra os schemas embutidos.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compila todos os schemas; um schema inválido impede o boot.
func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("listar schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("ler schema %s: %w", e.Name(), err)
		}
		if err := compiler.AddResource(baseURL+e.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("adicionar schema %s: %w", e.Name(), err)
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		s, err := compiler.Compile(baseURL + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compilar schema %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// Validate confere o JSON bruto contra o schema `name`. Falhas viram ValidationError.
func (v *Validator) Validate(name string, data []byte) error {
	s, ok := v.schemas[name]
	if !ok {
		return apperror.NewInternalError(fmt.Sprintf("schema %s não registrado.", name), nil)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return apperror.NewValidationError("Corpo da requisição não é um JSON válido.")
	}
	if err := s.Validate(doc); err != nil {
		return apperror.NewValidationError(describe(err))
	}
	return nil
}

// describe reduz o erro do validador à causa mais específica.
func describe(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	location := ve.InstanceLocation
	if location == "" {
		location = "/"
	}
	return fmt.Sprintf("campo %s: %s", location, ve.Message)
}

// DecodeRequest lê o corpo da requisição, valida contra o schema e decodifica em dst.
func (v *Validator) DecodeRequest(r *http.Request, name string, dst interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return apperror.NewValidationError("Falha ao ler o corpo da requisição.")
	}
	if len(data) > MaxBodyBytes {
		return apperror.NewValidationError(fmt.Sprintf("Corpo da requisição excede %d bytes.", MaxBodyBytes))
	}
	if err := v.Validate(name, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperror.NewValidationError("Payload inválido. Verifique o formato JSON.")
	}
	return nil
}
