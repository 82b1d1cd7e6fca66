package utils

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cppla/usageboard/config"
)

var httpClient = &http.Client{Timeout: 3 * time.Second}

type ipLookupResp struct {
	Success     *bool  `json:"success"`
	CountryCode string `json:"country_code"`
}

// simple in-memory TTL cache
type cacheEntry struct {
	value     string
	expiresAt time.Time
}

var (
	ipCountryMu    sync.RWMutex
	ipCountryCache = make(map[string]cacheEntry)
	ipCountryTTL   = 24 * time.Hour
)

// NormalizeCountryCode upper-cases a two-letter ISO 3166 code and rejects anything else.
// "XX" and "T1" are the placeholders CDNs send for unknown and Tor traffic.
func NormalizeCountryCode(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 2 || c == "XX" || c == "T1" {
		return ""
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return c
}

// IsPrivateIP returns true for RFC1918 and loopback ranges.
func IsPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

// GetIPCountry returns the ISO country code for an IP (with in-memory and Redis caching).
// On error, returns empty country and error.
func GetIPCountry(ctx context.Context, ip string) (string, error) {
	if ip == "" || IsPrivateIP(ip) {
		return "", nil
	}
	if v, ok := cacheGet(ip); ok {
		return v, nil
	}
	if v, ok := redisGet(ctx, ip); ok {
		cacheSet(ip, v)
		return v, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.Get().CountryLookupURL+ip, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "usageboard/1.0")
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("ip api non-200")
	}
	var body ipLookupResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Success != nil && !*body.Success {
		return "", errors.New("ip api lookup failed")
	}
	country := NormalizeCountryCode(body.CountryCode)
	if country != "" {
		cacheSet(ip, country)
		_ = redisSet(ctx, ip, country)
	}
	return country, nil
}

func cacheGet(ip string) (string, bool) {
	ipCountryMu.RLock()
	e, ok := ipCountryCache[ip]
	ipCountryMu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		ipCountryMu.Lock()
		delete(ipCountryCache, ip)
		ipCountryMu.Unlock()
		return "", false
	}
	return e.value, true
}

func cacheSet(ip, country string) {
	ipCountryMu.Lock()
	ipCountryCache[ip] = cacheEntry{value: country, expiresAt: time.Now().Add(ipCountryTTL)}
	ipCountryMu.Unlock()
}

func redisKey(ip string) string { return "ipcountry:" + ip }

func redisGet(ctx context.Context, ip string) (string, bool) {
	ctx2, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	val, err := GetRedis().Get(ctx2, redisKey(ip)).Result()
	if err != nil || val == "" {
		return "", false
	}
	return val, true
}

func redisSet(ctx context.Context, ip, country string) error {
	ctx2, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	return GetRedis().Set(ctx2, redisKey(ip), country, ipCountryTTL).Err()
}
