// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package geoip provides IP-to-country lookup using a MaxMind
// GeoLite2-Country database. It enriches audit events with the country of
// the recorded client IP.
package geoip

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

// privateCIDRs contains parsed CIDR blocks for private IP ranges.
var privateCIDRs []*net.IPNet

func init() {
	privateBlocks := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"fc00::/7",  // IPv6 unique local
		"fe80::/10", // IPv6 link-local
		"::1/128",   // IPv6 loopback
	}

	for _, block := range privateBlocks {
		_, cidr, err := net.ParseCIDR(block)
		if err == nil {
			privateCIDRs = append(privateCIDRs, cidr)
		}
	}
}

// Lookup resolves IP addresses to ISO country codes.
type Lookup struct {
	mu      sync.RWMutex
	db      *maxminddb.Reader
	enabled bool
}

// geoRecord matches the GeoLite2-Country database structure.
type geoRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// NewLookup creates a GeoIP lookup instance. Lookups stay disabled until a
// database is loaded via Init.
func NewLookup() *Lookup {
	return &Lookup{}
}

// Init loads the MaxMind database from dbPath. An empty path disables
// lookups without error (graceful degradation).
func (g *Lookup) Init(dbPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if dbPath == "" {
		g.enabled = false
		return nil
	}

	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("GeoIP database not found: %s", dbPath)
		}
		return fmt.Errorf("GeoIP database stat error: %w", err)
	}

	db, err := maxminddb.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening GeoIP database: %w", err)
	}

	if g.db != nil {
		_ = g.db.Close()
	}
	g.db = db
	g.enabled = true
	return nil
}

// Enabled reports whether a database is loaded.
func (g *Lookup) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// Country returns the ISO country code for ipStr, or "" when the lookup is
// disabled, the address is private, or the database has no match.
func (g *Lookup) Country(ipStr string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.enabled || g.db == nil {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil || isPrivate(ip) {
		return ""
	}

	var record geoRecord
	if err := g.db.Lookup(ip, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// Close releases the database handle.
func (g *Lookup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.enabled = false
	if g.db != nil {
		err := g.db.Close()
		g.db = nil
		return err
	}
	return nil
}

func isPrivate(ip net.IP) bool {
	for _, cidr := range privateCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
