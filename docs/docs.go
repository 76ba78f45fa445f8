// Package docs holds the swaggo registration generated by `swag init`.
// Regenerate with: swag init -g cmd/kwextract/docs.go -o docs
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
    "paths": {
        "/healthz": {
            "get": {
                "summary": "Liveness probe",
                "responses": {
                    "200": {
                        "description": "ok",
                        "schema": {"type": "string"}
                    }
                }
            }
        },
        "/readyz": {
            "get": {
                "summary": "Readiness probe",
                "responses": {
                    "200": {
                        "description": "ready",
                        "schema": {"type": "string"}
                    },
                    "503": {
                        "description": "loading",
                        "schema": {"type": "string"}
                    }
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Pipeline run status",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/types.RunStatus"}
                    }
                }
            }
        }
    },
    "definitions": {
        "types.RunStatus": {
            "type": "object",
            "properties": {
                "run_id": {"type": "string"},
                "state": {"type": "string"},
                "input": {"type": "string"},
                "output": {"type": "string"},
                "model": {"type": "string"},
                "total_records": {"type": "integer"},
                "processed_records": {"type": "integer"},
                "batches_done": {"type": "integer"},
                "keywords_total": {"type": "integer"},
                "engine_pid": {"type": "integer"},
                "engine_port": {"type": "integer"},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"},
                "error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "kwextract API",
	Description:      "Status and metrics surface for the keyword extraction pipeline.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
