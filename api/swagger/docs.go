// Package swagger registers the OpenAPI document served at /swagger/*any.
// Regenerate with: swag init -g cmd/api/main.go -o api/swagger
package swagger

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
    "paths": {
        "/login": {"post": {"tags": ["auth"], "summary": "Login user"}},
        "/logout": {"post": {"tags": ["auth"], "summary": "Logout user"}},
        "/me": {"get": {"security": [{"BearerAuth": []}], "tags": ["auth"], "summary": "Get current user"}},
        "/users": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["users"], "summary": "List users"},
            "post": {"security": [{"BearerAuth": []}], "tags": ["users"], "summary": "Create a new user"}
        },
        "/users/{id}": {"get": {"security": [{"BearerAuth": []}], "tags": ["users"], "summary": "Get user by ID"}},
        "/api/bills": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["billing"], "summary": "List bills"},
            "post": {"security": [{"BearerAuth": []}], "tags": ["billing"], "summary": "Create bill"}
        },
        "/api/bills/{id}": {"get": {"security": [{"BearerAuth": []}], "tags": ["billing"], "summary": "Get bill"}},
        "/api/bills/{id}/returns": {"get": {"security": [{"BearerAuth": []}], "tags": ["returns"], "summary": "List returns of a bill"}},
        "/api/returns": {"post": {"security": [{"BearerAuth": []}], "tags": ["returns"], "summary": "Create return"}},
        "/api/categories": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["catalog"], "summary": "List categories"},
            "post": {"security": [{"BearerAuth": []}], "tags": ["catalog"], "summary": "Create category"}
        },
        "/api/categories/{id}/sub-categories": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["catalog"], "summary": "List sub-categories"},
            "post": {"security": [{"BearerAuth": []}], "tags": ["catalog"], "summary": "Create sub-category"}
        },
        "/api/medicines": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["catalog"], "summary": "List medicines"},
            "post": {"security": [{"BearerAuth": []}], "tags": ["catalog"], "summary": "Create medicine"}
        },
        "/api/medicines/{id}": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["catalog"], "summary": "Get medicine"},
            "patch": {"security": [{"BearerAuth": []}], "tags": ["catalog"], "summary": "Update medicine"}
        },
        "/api/medicines/{id}/stock-card": {"get": {"security": [{"BearerAuth": []}], "tags": ["catalog"], "summary": "Stock card"}},
        "/api/reports/dashboard": {"get": {"security": [{"BearerAuth": []}], "tags": ["reports"], "summary": "Dashboard summary"}},
        "/api/reports/sales": {"get": {"security": [{"BearerAuth": []}], "tags": ["reports"], "summary": "Sales report"}},
        "/api/reports/top-selling": {"get": {"security": [{"BearerAuth": []}], "tags": ["reports"], "summary": "Top selling medicines"}},
        "/api/reports/low-stock": {"get": {"security": [{"BearerAuth": []}], "tags": ["reports"], "summary": "Low stock medicines"}},
        "/api/reports/expiring": {"get": {"security": [{"BearerAuth": []}], "tags": ["reports"], "summary": "Medicines expiring soon"}},
        "/api/audit-logs": {"get": {"security": [{"BearerAuth": []}], "tags": ["audit"], "summary": "Get audit logs"}}
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Pharmacy Ledger API",
	Description:      "Transactional inventory ledger for a pharmacy: catalog, billing, returns and reports.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
