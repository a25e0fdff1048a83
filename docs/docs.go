// Package docs registra a documentação Swagger servida em /swagger/*.
// Regerar com: swag init -g cmd/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"ApiKeyAuth": []}],
    "paths": {
        "/palette/cheques": {
            "post": {"tags": ["cheques"], "summary": "Emite um cheque-palete",
                "parameters": [{"in": "body", "name": "cheque", "required": true, "schema": {"$ref": "#/definitions/domain.IssueRequest"}}],
                "responses": {"201": {"description": "Cheque emitido"}, "400": {"description": "Payload inválido", "schema": {"$ref": "#/definitions/domain.ErrorResponse"}}}}
        },
        "/palette/cheques/{id}": {
            "get": {"tags": ["cheques"], "summary": "Obtém um cheque por ID",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Cheque"}, "404": {"description": "Não encontrado", "schema": {"$ref": "#/definitions/domain.ErrorResponse"}}}}
        },
        "/palette/cheques/{id}/verify": {
            "get": {"tags": ["cheques"], "summary": "Verifica a assinatura de um cheque",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Resultado da verificação"}}}
        },
        "/palette/cheques/{id}/deposit": {
            "post": {"tags": ["cheques"], "summary": "Confirma o depósito físico no site",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Depósito aceito"}, "409": {"description": "Cota excedida ou fora do horário", "schema": {"$ref": "#/definitions/domain.ErrorResponse"}}}}
        },
        "/palette/cheques/{id}/receipt": {
            "post": {"tags": ["cheques"], "summary": "Confirma a recepção pelo dono do site",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Recepção registrada"}, "409": {"description": "Estado inválido", "schema": {"$ref": "#/definitions/domain.ErrorResponse"}}}}
        },
        "/palette/admin/cheques": {
            "get": {"tags": ["admin"], "summary": "Lista cheques (administração)",
                "parameters": [
                    {"in": "query", "name": "status", "type": "string"},
                    {"in": "query", "name": "companyId", "type": "string"},
                    {"in": "query", "name": "siteId", "type": "string"},
                    {"in": "query", "name": "cursor", "type": "string"},
                    {"in": "query", "name": "limit", "type": "integer"}],
                "responses": {"200": {"description": "Página de cheques"}}}
        },
        "/palette/sites": {
            "get": {"tags": ["sites"], "summary": "Lista os sites", "responses": {"200": {"description": "Sites"}}},
            "post": {"tags": ["sites"], "summary": "Cadastra um site de devolução", "responses": {"201": {"description": "Site criado"}}}
        },
        "/palette/sites/{id}": {
            "get": {"tags": ["sites"], "summary": "Obtém um site e a cota do dia",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Site e cota"}}}
        },
        "/palette/sites/{id}/quota": {
            "post": {"tags": ["sites"], "summary": "Altera a política de cota do site",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Cota atualizada"}}}
        },
        "/palette/sites/{id}/deactivate": {
            "post": {"tags": ["sites"], "summary": "Desativa um site",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Site desativado"}}}
        },
        "/palette/ledger/{companyId}": {
            "get": {"tags": ["ledger"], "summary": "Obtém o razão de uma empresa",
                "parameters": [{"in": "path", "name": "companyId", "type": "string", "required": true}],
                "responses": {"200": {"description": "Razão"}}}
        },
        "/palette/ledger/{companyId}/export": {
            "get": {"tags": ["ledger"], "summary": "Exporta o razão em XLSX",
                "produces": ["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "parameters": [{"in": "path", "name": "companyId", "type": "string", "required": true}],
                "responses": {"200": {"description": "Planilha do razão", "schema": {"type": "file"}}}}
        },
        "/palette/ledger/{companyId}/adjustments": {
            "post": {"tags": ["admin"], "summary": "Lança uma correção manual (administração)",
                "parameters": [{"in": "path", "name": "companyId", "type": "string", "required": true}],
                "responses": {"201": {"description": "Lançamento criado"}}}
        },
        "/palette/ledgers": {
            "get": {"tags": ["admin"], "summary": "Lê vários razões em paralelo (administração)",
                "parameters": [{"in": "query", "name": "companyIds", "type": "string", "required": true}],
                "responses": {"200": {"description": "Razões na ordem pedida"}}}
        },
        "/palette/disputes": {
            "get": {"tags": ["disputes"], "summary": "Lista litígios", "responses": {"200": {"description": "Litígios"}}},
            "post": {"tags": ["disputes"], "summary": "Abre um litígio sobre um cheque", "responses": {"201": {"description": "Litígio aberto"}}}
        },
        "/palette/disputes/{id}": {
            "get": {"tags": ["disputes"], "summary": "Obtém um litígio por ID",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Litígio"}}}
        },
        "/palette/disputes/{id}/propose": {
            "post": {"tags": ["disputes"], "summary": "Propõe uma solução",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Litígio em PROPOSED"}}}
        },
        "/palette/disputes/{id}/validate": {
            "post": {"tags": ["disputes"], "summary": "Valida a proposta em nome da empresa do chamador",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Litígio validado ou resolvido"}}}
        },
        "/palette/disputes/{id}/escalate": {
            "post": {"tags": ["disputes"], "summary": "Escala o litígio para arbitragem",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "Litígio escalado"}}}
        },
        "/palette/evidence": {
            "post": {"tags": ["evidence"], "summary": "Envia uma foto de evidência",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"in": "formData", "name": "photo", "type": "file", "required": true},
                    {"in": "formData", "name": "takenAt", "type": "string"},
                    {"in": "formData", "name": "companyId", "type": "string"}],
                "responses": {"201": {"description": "Foto gravada"}}}
        }
    },
    "definitions": {
        "domain.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 409},
                "category": {"type": "string", "example": "QUOTA_EXCEEDED"},
                "message": {"type": "string"},
                "retryable": {"type": "boolean", "example": false}
            }
        },
        "domain.IssueRequest": {
            "type": "object",
            "properties": {
                "orderId": {"type": "string"},
                "fromCompanyId": {"type": "string"},
                "toSiteId": {"type": "string"},
                "quantity": {"type": "integer"},
                "palletType": {"type": "string", "example": "EUR"}
            }
        }
    }
}`

// SwaggerInfo guarda as informações exportadas da API.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Palette Ledger API",
	Description:      "Cheques-palete, cotas de sites de devolução, razão por empresa e litígios.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
