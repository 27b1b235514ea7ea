// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of the
// working directory or installation location.
package schemasassets

import _ "embed"

// TaskParamsSchema is the embedded task-params JSON schema.
//
//go:embed task-params.schema.json
var TaskParamsSchema []byte

// SecretsSchema is the embedded secrets-file JSON schema.
//
//go:embed secrets.schema.json
var SecretsSchema []byte
