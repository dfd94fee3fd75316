package main

import (
	"fmt"
	"strings"

	"github.com/orian/sqlmedic/models"
)

// HealRequest is the incoming payload for healing and preview endpoints.
type HealRequest struct {
	Query   string                `json:"query"`
	Hash    string                `json:"hash,omitempty"`
	Metrics models.QueryMetrics   `json:"metrics"`
	Policy  *models.HealingPolicy `json:"policy,omitempty"`
}

// ApplyRequest is the incoming payload for the raw fix-application endpoint.
type ApplyRequest struct {
	Query          string       `json:"query"`
	Fixes          []models.Fix `json:"fixes"`
	MinConfidence  float64      `json:"minConfidence"`
	AggressiveMode bool         `json:"aggressiveMode"`
}

// normalizeHealRequest validates the request, fills the hash when the
// caller did not supply one, and resolves the effective policy.
func normalizeHealRequest(req *HealRequest) (models.Query, models.HealingPolicy, error) {
	if strings.TrimSpace(req.Query) == "" {
		return models.Query{}, models.HealingPolicy{}, fmt.Errorf("query text is required")
	}

	hash := req.Hash
	if hash == "" {
		hash = models.HashQuery(req.Query)
	}

	query := models.Query{
		Text:    req.Query,
		Hash:    hash,
		Metrics: req.Metrics,
	}
	return query, getPolicy(req.Policy), nil
}

// getPolicy returns the provided policy or the defaults if none provided.
func getPolicy(policy *models.HealingPolicy) models.HealingPolicy {
	if policy == nil {
		return models.DefaultHealingPolicy()
	}
	return *policy
}
