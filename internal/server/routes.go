// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ensemble-dev/ensemble/internal/balance"
	"github.com/ensemble-dev/ensemble/internal/cost"
	"github.com/ensemble-dev/ensemble/internal/fault"
	"github.com/ensemble-dev/ensemble/internal/ledger"
	"github.com/ensemble-dev/ensemble/internal/orchestrator"
	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
	"github.com/ensemble-dev/ensemble/pkg/health"
)

// CatalogReader is the read-only catalog surface the API needs.
type CatalogReader interface {
	Names(kind provider.Kind) []string
	Descriptors(kind provider.Kind) []provider.Descriptor
}

// ProviderView merges a descriptor with its current health record.
type ProviderView struct {
	Descriptor provider.Descriptor `json:"descriptor"`
	Health     *health.Record      `json:"health,omitempty"`
}

type listProvidersOutput struct {
	Body struct {
		Providers []ProviderView `json:"providers"`
	}
}

type probeInput struct {
	Kind string `path:"kind" enum:"generation,transcription,storage"`
	Name string `path:"name"`
}

type probeOutput struct {
	Body health.Record
}

type listCircuitsOutput struct {
	Body struct {
		Circuits []fault.BreakerSnapshot `json:"circuits"`
	}
}

type usageDailyInput struct {
	Days int `query:"days" default:"30" minimum:"1" maximum:"366"`
}

type usageDailyOutput struct {
	Body struct {
		Days []ledger.DayUsage `json:"days"`
	}
}

type usageMonthlyInput struct {
	Months int `query:"months" default:"12" minimum:"1" maximum:"120"`
}

type usageMonthlyOutput struct {
	Body struct {
		Months []ledger.MonthUsage `json:"months"`
	}
}

type usageProvidersInput struct {
	Days int `query:"days" default:"30" minimum:"1" maximum:"366"`
}

type usageProvidersOutput struct {
	Body struct {
		Providers []ledger.ProviderUsage `json:"providers"`
	}
}

type selectInput struct {
	Body struct {
		Kind         string              `json:"kind" enum:"generation,transcription,storage"`
		Strategy     string              `json:"strategy,omitempty"`
		Algorithm    string              `json:"algorithm,omitempty"`
		CostStrategy string              `json:"cost_strategy,omitempty"`
		Params       provider.CostParams `json:"params,omitempty"`
	}
}

type selectOutput struct {
	Body struct {
		Name          string  `json:"name"`
		EstimatedCost float64 `json:"estimated_cost"`
	}
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers",
		Summary:     "List registered providers with health",
		Tags:        []string{"providers"},
	}, s.handleListProviders)

	huma.Register(s.api, huma.Operation{
		OperationID: "probe-provider",
		Method:      http.MethodPost,
		Path:        "/api/v1/providers/{kind}/{name}/probe",
		Summary:     "Force a health probe",
		Tags:        []string{"providers"},
	}, s.handleProbe)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-circuits",
		Method:      http.MethodGet,
		Path:        "/api/v1/circuits",
		Summary:     "List circuit breaker states",
		Tags:        []string{"fault"},
	}, s.handleListCircuits)

	huma.Register(s.api, huma.Operation{
		OperationID: "usage-daily",
		Method:      http.MethodGet,
		Path:        "/api/v1/usage/daily",
		Summary:     "Daily usage totals",
		Tags:        []string{"usage"},
	}, s.handleUsageDaily)

	huma.Register(s.api, huma.Operation{
		OperationID: "usage-monthly",
		Method:      http.MethodGet,
		Path:        "/api/v1/usage/monthly",
		Summary:     "Monthly usage totals",
		Tags:        []string{"usage"},
	}, s.handleUsageMonthly)

	huma.Register(s.api, huma.Operation{
		OperationID: "usage-providers",
		Method:      http.MethodGet,
		Path:        "/api/v1/usage/providers",
		Summary:     "Per-provider usage breakdown",
		Tags:        []string{"usage"},
	}, s.handleUsageProviders)

	huma.Register(s.api, huma.Operation{
		OperationID: "select-provider",
		Method:      http.MethodPost,
		Path:        "/api/v1/select",
		Summary:     "Dry-run a selection decision",
		Tags:        []string{"orchestrator"},
	}, s.handleSelect)
}

func (s *Server) handleListProviders(_ context.Context, _ *struct{}) (*listProvidersOutput, error) {
	out := &listProvidersOutput{}
	for _, kind := range provider.Kinds() {
		for _, desc := range s.deps.Catalog.Descriptors(kind) {
			view := ProviderView{Descriptor: desc}
			if rec, ok := s.deps.Monitor.Record(kind, desc.Name); ok {
				view.Health = &rec
			}
			out.Body.Providers = append(out.Body.Providers, view)
		}
	}
	return out, nil
}

func (s *Server) handleProbe(ctx context.Context, in *probeInput) (*probeOutput, error) {
	kind := provider.Kind(in.Kind)
	if !kind.Valid() {
		return nil, huma.Error400BadRequest("unknown provider kind: " + in.Kind)
	}

	found := false
	for _, name := range s.deps.Catalog.Names(kind) {
		if name == in.Name {
			found = true
			break
		}
	}
	if !found {
		return nil, huma.Error404NotFound("provider not registered: " + in.Name)
	}

	rec := s.deps.Monitor.Probe(ctx, kind, in.Name, true)
	return &probeOutput{Body: rec}, nil
}

func (s *Server) handleListCircuits(_ context.Context, _ *struct{}) (*listCircuitsOutput, error) {
	out := &listCircuitsOutput{}
	out.Body.Circuits = s.deps.Breakers.Snapshots()
	return out, nil
}

func (s *Server) handleUsageDaily(ctx context.Context, in *usageDailyInput) (*usageDailyOutput, error) {
	from := time.Now().UTC().AddDate(0, 0, -in.Days)
	days, err := s.deps.Usage.SummarizeByDay(ctx, from, time.Time{})
	if err != nil {
		return nil, huma.NewError(enserr.HTTPStatus(err), err.Error())
	}
	out := &usageDailyOutput{}
	out.Body.Days = days
	return out, nil
}

func (s *Server) handleUsageMonthly(ctx context.Context, in *usageMonthlyInput) (*usageMonthlyOutput, error) {
	from := time.Now().UTC().AddDate(0, -in.Months, 0)
	months, err := s.deps.Usage.SummarizeByMonth(ctx, from, time.Time{})
	if err != nil {
		return nil, huma.NewError(enserr.HTTPStatus(err), err.Error())
	}
	out := &usageMonthlyOutput{}
	out.Body.Months = months
	return out, nil
}

func (s *Server) handleUsageProviders(ctx context.Context, in *usageProvidersInput) (*usageProvidersOutput, error) {
	from := time.Now().UTC().AddDate(0, 0, -in.Days)
	provs, err := s.deps.Usage.ByProvider(ctx, from, time.Time{})
	if err != nil {
		return nil, huma.NewError(enserr.HTTPStatus(err), err.Error())
	}
	out := &usageProvidersOutput{}
	out.Body.Providers = provs
	return out, nil
}

func (s *Server) handleSelect(ctx context.Context, in *selectInput) (*selectOutput, error) {
	req := orchestrator.Request{
		Kind:   provider.Kind(in.Body.Kind),
		Params: in.Body.Params,
	}
	if !req.Kind.Valid() {
		return nil, huma.Error400BadRequest("unknown provider kind: " + in.Body.Kind)
	}

	if in.Body.Strategy != "" {
		strategy, err := orchestrator.ParseStrategy(in.Body.Strategy)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		req.Strategy = strategy
	}
	if in.Body.Algorithm != "" {
		algo, err := balance.ParseAlgorithm(in.Body.Algorithm)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		req.Algorithm = algo
	}
	if in.Body.CostStrategy != "" {
		cs, err := cost.ParseStrategy(in.Body.CostStrategy)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		req.CostStrategy = cs
	}

	name, estimated, err := s.deps.Orchestrator.Select(ctx, req)
	if err != nil {
		return nil, huma.NewError(enserr.HTTPStatus(err), err.Error())
	}

	out := &selectOutput{}
	out.Body.Name = name
	out.Body.EstimatedCost = estimated
	return out, nil
}
