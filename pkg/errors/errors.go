// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package errors defines the coded error vocabulary shared by every
// Ensemble subsystem. Codes are dotted paths (subsystem.operation.reason)
// so callers can classify failures without matching on message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeCatalogRegisterUnknownKind Code = "catalog.register.unknown_kind"
	CodeCatalogRegisterDuplicate   Code = "catalog.register.conflict"
	CodeCatalogLookupNotFound      Code = "catalog.lookup.not_found"
	CodeCatalogConstructFailure    Code = "catalog.construct.failure"

	CodeProviderConfigInvalid   Code = "provider.config.invalid_value"
	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"

	CodeHealthProbeTimeout Code = "health.probe.timeout"

	CodeFaultCircuitOpen   Code = "fault.circuit.open"
	CodeFaultRetryConfig   Code = "fault.retry.invalid_value"
	CodeFaultBreakerConfig Code = "fault.breaker.invalid_value"

	CodeCostBudgetExceeded Code = "cost.budget.exceeded"

	CodeLedgerPersistFailure Code = "ledger.persist.failure"
	CodeLedgerQueryFailure   Code = "ledger.query.failure"

	CodeOrchestratorNoProvider Code = "orchestrator.select.no_available_provider"
	CodeOrchestratorBadRequest Code = "orchestrator.request.invalid"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldKind(value string) Attr {
	return Field("kind", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldBreaker(value string) Attr {
	return Field("breaker", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

// IsInvalidInput reports whether the error is configuration-class: a bad
// value, format, or request that no amount of retrying will fix. The
// health monitor treats these as fatal probe failures.
func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" ||
		r == "invalid_format" || r == "unknown_kind"
}

// IsCircuitOpen reports whether the error is the fail-fast signal emitted
// by an open circuit breaker, as opposed to a genuine downstream failure.
func IsCircuitOpen(err error) bool {
	return HasCode(err, CodeFaultCircuitOpen)
}

// IsNoAvailableProvider reports whether an acquisition failed because no
// candidate survived selection.
func IsNoAvailableProvider(err error) bool {
	return HasCode(err, CodeOrchestratorNoProvider)
}

func IsBudgetExceeded(err error) bool {
	r := reason(CodeOf(err))
	return r == "exceeded" || r == "budget_exceeded"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsBudgetExceeded(err):
		return http.StatusTooManyRequests
	case IsCircuitOpen(err), IsNoAvailableProvider(err):
		return http.StatusServiceUnavailable
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
