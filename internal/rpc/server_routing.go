package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/mod/semver"
)

// checkVersionCompatibility refuses clients whose major version differs from
// the daemon's, and clients newer than the daemon.
func (s *Server) checkVersionCompatibility(clientVersion string) error {
	if clientVersion == "" {
		return nil
	}

	serverVer := canonicalVersion(ServerVersion)
	clientVer := canonicalVersion(clientVersion)
	// Dev builds carry non-semver versions
	if !semver.IsValid(serverVer) || !semver.IsValid(clientVer) {
		return nil
	}

	cmp := semver.Compare(serverVer, clientVer)
	if semver.Major(serverVer) != semver.Major(clientVer) {
		if cmp < 0 {
			return fmt.Errorf("incompatible major versions: client %s, daemon %s. Daemon is older; restart it with 'fieldmerge serve'",
				clientVersion, ServerVersion)
		}
		return fmt.Errorf("incompatible major versions: client %s, daemon %s. Client is older; upgrade the fieldmerge CLI",
			clientVersion, ServerVersion)
	}
	if cmp < 0 {
		return fmt.Errorf("version mismatch: daemon %s is older than client %s. Restart the daemon with 'fieldmerge serve'",
			ServerVersion, clientVersion)
	}
	return nil
}

func canonicalVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}

// validateDatabaseBinding rejects clients that expect a different state database.
func (s *Server) validateDatabaseBinding(req *Request) error {
	if req.ExpectedDB == "" || s.dbPath == "" {
		return nil
	}
	if resolvePath(req.ExpectedDB) != resolvePath(s.dbPath) {
		return fmt.Errorf("database mismatch: client expects %s but daemon serves %s", req.ExpectedDB, s.dbPath)
	}
	return nil
}

func resolvePath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}

func (s *Server) handleRequest(req *Request) Response {
	start := time.Now()
	defer func() {
		s.logger.Debug("rpc request", "op", req.Operation, "request_id", req.RequestID, "elapsed", time.Since(start))
	}()

	if req.Operation != OpHealth {
		if err := s.validateDatabaseBinding(req); err != nil {
			return Response{Success: false, Error: err.Error(), Code: CodeInvalid}
		}
	}
	if req.Operation != OpPing && req.Operation != OpHealth {
		if err := s.checkVersionCompatibility(req.ClientVersion); err != nil {
			return Response{Success: false, Error: err.Error(), Code: CodeInvalid}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	switch req.Operation {
	case OpPing:
		return s.handlePing(req)
	case OpHealth:
		return s.handleHealth(ctx, req)
	case OpFieldsList:
		return s.respond(s.engine.ListCustomFields(ctx))
	case OpFieldUsage:
		var args FieldArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return invalidArgs(req.Operation, err)
		}
		return s.respond(s.engine.GetFieldUsage(ctx, args.FieldID))
	case OpCheckCompatibility:
		var args PairArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return invalidArgs(req.Operation, err)
		}
		return s.respond(s.engine.CheckCompatibility(ctx, args.SourceFieldID, args.TargetFieldID))
	case OpAnalyze:
		var args PairArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return invalidArgs(req.Operation, err)
		}
		return s.respond(s.engine.Analyze(ctx, args.SourceFieldID, args.TargetFieldID))
	case OpMigrationStart:
		var args PairArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return invalidArgs(req.Operation, err)
		}
		id, err := s.engine.StartMigration(ctx, args.SourceFieldID, args.TargetFieldID)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(StartResult{MigrationID: id}, nil)
	case OpMigrationStatus:
		var args MigrationArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return invalidArgs(req.Operation, err)
		}
		return s.respond(s.engine.GetMigrationStatus(ctx, args.MigrationID))
	case OpMigrationHistory:
		return s.respond(s.engine.ListMigrationHistory(ctx))
	case OpShutdown:
		// Respond before the listener closes
		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = s.Stop()
		}()
		return Response{Success: true}
	default:
		return Response{
			Success: false,
			Error:   fmt.Sprintf("unknown operation: %s", req.Operation),
			Code:    CodeInvalid,
		}
	}
}

func invalidArgs(op string, err error) Response {
	return Response{Success: false, Error: fmt.Sprintf("invalid %s args: %v", op, err), Code: CodeInvalid}
}

func (s *Server) respond(v any, err error) Response {
	if err != nil {
		code, detail := classify(err)
		resp := Response{Success: false, Error: err.Error(), Code: code}
		if detail != nil {
			if data, mErr := json.Marshal(detail); mErr == nil {
				resp.Data = data
			}
		}
		return resp
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Response{Success: false, Error: fmt.Sprintf("failed to encode result: %v", err), Code: CodeInternal}
	}
	return Response{Success: true, Data: data}
}

func (s *Server) handlePing(_ *Request) Response {
	data, _ := json.Marshal(PingResponse{
		Message: "pong",
		Version: ServerVersion,
	})
	return Response{Success: true, Data: data}
}

func (s *Server) handleHealth(ctx context.Context, req *Request) Response {
	start := time.Now()

	dbCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	status := "healthy"
	dbError := ""
	if _, err := s.engine.ListMigrationHistory(dbCtx); err != nil {
		status = statusUnhealthy
		dbError = err.Error()
	}
	dbResponseMs := time.Since(start).Seconds() * 1000
	if status == "healthy" && dbResponseMs > 500 {
		status = "degraded"
	}

	compatible := true
	if req.ClientVersion != "" {
		compatible = s.checkVersionCompatibility(req.ClientVersion) == nil
	}

	health := HealthResponse{
		Status:         status,
		Version:        ServerVersion,
		ClientVersion:  req.ClientVersion,
		Compatible:     compatible,
		Uptime:         time.Since(s.startTime).Seconds(),
		DBResponseTime: dbResponseMs,
		DatabasePath:   s.dbPath,
		PID:            os.Getpid(),
		ActiveConns:    atomic.LoadInt32(&s.activeConns),
		MaxConns:       s.maxConns,
		Error:          dbError,
	}

	data, _ := json.Marshal(health)
	return Response{Success: true, Data: data}
}
