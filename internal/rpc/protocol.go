package rpc

import (
	"encoding/json"

	"github.com/untoldecay/fieldmerge/internal/types"
)

// Operation constants for all daemon requests
const (
	OpPing               = "ping"
	OpHealth             = "health"
	OpFieldsList         = "fields_list"
	OpFieldUsage         = "field_usage"
	OpCheckCompatibility = "check_compatibility"
	OpAnalyze            = "analyze"
	OpMigrationStart     = "migration_start"
	OpMigrationStatus    = "migration_status"
	OpMigrationHistory   = "migration_history"
	OpShutdown           = "shutdown"
)

// Error codes carried in Response.Code
const (
	CodeInvalid      = "invalid"
	CodeNotFound     = "not_found"
	CodeIncompatible = "incompatible"
	CodeRunning      = "running"
	CodeInternal     = "internal"
)

// Request represents an RPC request from client to daemon
type Request struct {
	Operation     string          `json:"operation"`
	Args          json.RawMessage `json:"args"`
	RequestID     string          `json:"request_id,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"` // Client version for compatibility checks
	ExpectedDB    string          `json:"expected_db,omitempty"`    // Expected database path for validation (absolute)
}

// Response represents an RPC response from daemon to client
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// FieldArgs names a single field
type FieldArgs struct {
	FieldID string `json:"fieldId"`
}

// PairArgs names a source/target field pair
type PairArgs struct {
	SourceFieldID string `json:"sourceFieldId"`
	TargetFieldID string `json:"targetFieldId"`
}

// MigrationArgs names a migration
type MigrationArgs struct {
	MigrationID string `json:"migrationId"`
}

// StartResult is returned by migration_start
type StartResult struct {
	MigrationID string `json:"migrationId"`
}

// IncompatibleData accompanies a CodeIncompatible failure
type IncompatibleData struct {
	Validation types.Compatibility `json:"validation"`
}

// PingResponse is the response for a ping operation
type PingResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// HealthResponse is the response for a health check operation
type HealthResponse struct {
	Status         string  `json:"status"`                   // "healthy", "degraded", "unhealthy"
	Version        string  `json:"version"`                  // Server/daemon version
	ClientVersion  string  `json:"client_version,omitempty"` // Client version from request
	Compatible     bool    `json:"compatible"`               // Whether versions are compatible
	Uptime         float64 `json:"uptime_seconds"`
	DBResponseTime float64 `json:"db_response_ms"`
	DatabasePath   string  `json:"database_path,omitempty"`
	PID            int     `json:"pid"`
	ActiveConns    int32   `json:"active_connections"`
	MaxConns       int     `json:"max_connections"`
	Error          string  `json:"error,omitempty"`
}
