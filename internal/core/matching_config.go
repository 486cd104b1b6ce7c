package core

import (
	"fmt"
	"strings"
	"time"
)

// MatchingConfig holds the tunables of the matching engine.
type MatchingConfig struct {
	SupplierTopK          int
	MaxAlternatives       int
	POLineTopK            int
	POAcceptThreshold     float64
	EmbeddingMaxAge       time.Duration
	EmbeddingRetryBackoff time.Duration
	EmbeddingBatchSize    int
	DefaultDeltaWindow    time.Duration
}

// DefaultMatchingConfig returns the validated defaults.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		SupplierTopK:          10,
		MaxAlternatives:       5,
		POLineTopK:            3,
		POAcceptThreshold:     0.7,
		EmbeddingMaxAge:       30 * 24 * time.Hour,
		EmbeddingRetryBackoff: time.Hour,
		EmbeddingBatchSize:    200,
		DefaultDeltaWindow:    24 * time.Hour,
	}
}

// withDefaults fills zero fields from DefaultMatchingConfig.
func (c MatchingConfig) withDefaults() MatchingConfig {
	d := DefaultMatchingConfig()
	if c.SupplierTopK <= 0 {
		c.SupplierTopK = d.SupplierTopK
	}
	if c.MaxAlternatives <= 0 {
		c.MaxAlternatives = d.MaxAlternatives
	}
	if c.POLineTopK <= 0 {
		c.POLineTopK = d.POLineTopK
	}
	if c.POAcceptThreshold <= 0 {
		c.POAcceptThreshold = d.POAcceptThreshold
	}
	if c.EmbeddingMaxAge <= 0 {
		c.EmbeddingMaxAge = d.EmbeddingMaxAge
	}
	if c.EmbeddingRetryBackoff <= 0 {
		c.EmbeddingRetryBackoff = d.EmbeddingRetryBackoff
	}
	if c.EmbeddingBatchSize <= 0 {
		c.EmbeddingBatchSize = d.EmbeddingBatchSize
	}
	if c.DefaultDeltaWindow <= 0 {
		c.DefaultDeltaWindow = d.DefaultDeltaWindow
	}
	return c
}

// ThreeWayMatchPolicy decides what a failed goods-receipt check does at posting time.
type ThreeWayMatchPolicy string

const (
	// ThreeWayFlag posts anyway; the failure stays visible on the invoice and in validation.
	ThreeWayFlag ThreeWayMatchPolicy = "FLAG"
	// ThreeWayBlock refuses to post until the goods receipt check passes.
	ThreeWayBlock ThreeWayMatchPolicy = "BLOCK"
)

// ParseThreeWayMatchPolicy parses FLAG or BLOCK, case-insensitively. Empty means FLAG.
func ParseThreeWayMatchPolicy(s string) (ThreeWayMatchPolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(ThreeWayFlag):
		return ThreeWayFlag, nil
	case string(ThreeWayBlock):
		return ThreeWayBlock, nil
	default:
		return "", fmt.Errorf("unknown three-way match policy %q (want FLAG or BLOCK)", s)
	}
}

// PostingPolicy configures PostToERP.
type PostingPolicy struct {
	ThreeWayMatch ThreeWayMatchPolicy
}
