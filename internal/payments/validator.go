package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"sort"
	"strings"
)

const maxWebhookBody = 1 << 20 // 1MB

var ErrInvalidSignature = errors.New("Invalid webhook signature")

// Netcash notification source ranges.
var netcashRanges = []netip.Prefix{
	netip.MustParsePrefix("196.33.252.0/24"),
	netip.MustParsePrefix("41.203.154.0/24"),
}

type ValidationResult struct {
	Valid     bool
	Payload   *Payload
	Errors    []string
	ClientIP  string
	Signature string
	RawBody   []byte
}

// VerifySignature checks a hex HMAC-SHA256 of the raw body.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// VerifyFormSignature signs the form parameters as k=v pairs sorted by key
// and joined with '&'.
func VerifyFormSignature(values map[string]string, signature, secret string) bool {
	return VerifySignature([]byte(canonicalForm(values)), signature, secret)
}

func canonicalForm(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values[k])
	}
	return strings.Join(pairs, "&")
}

// IsNetcashIP allows loopback always, anything in development, and the
// Netcash ranges otherwise.
func IsNetcashIP(ip, env string) bool {
	if ip == "127.0.0.1" || ip == "::1" {
		return true
	}
	if env == "development" {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range netcashRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// DefaultTrustedProxies covers loopback and private networks, where a
// load balancer in front of the API normally sits.
const DefaultTrustedProxies = "127.0.0.0/8,::1/128,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,fc00::/7"

// TrustedProxies lists the peers whose forwarding headers are believed.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies reads a comma separated list of CIDRs or bare
// addresses.
func ParseTrustedProxies(s string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", part, err)
			}
			out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", part, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func (tp TrustedProxies) contains(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range tp {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ClientIP returns the caller's address. Forwarding headers are only read
// when the direct peer is a trusted proxy; X-Forwarded-For is then walked
// right to left and the first hop that is not itself a trusted proxy wins.
func ClientIP(r *http.Request, trusted TrustedProxies) string {
	peer := peerIP(r)
	if peer == "" {
		return "unknown"
	}
	if !trusted.contains(peer) {
		return peer
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				return peer
			}
			if !trusted.contains(hop) || i == 0 {
				return hop
			}
		}
	}
	for _, h := range []string{"CF-Connecting-IP", "X-Real-IP"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			if _, err := netip.ParseAddr(v); err == nil {
				return v
			}
		}
	}
	return peer
}

// ValidateRequest runs every check and collects all failures rather than
// stopping at the first.
func ValidateRequest(r *http.Request, secret, env string, trusted TrustedProxies) ValidationResult {
	res := ValidationResult{ClientIP: ClientIP(r, trusted)}

	if !IsNetcashIP(res.ClientIP, env) {
		res.Errors = append(res.Errors, "Request from unauthorized IP: "+res.ClientIP)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		res.Errors = append(res.Errors, "Failed to read request body")
		return res
	}
	res.RawBody = body

	res.Signature = r.Header.Get("X-Netcash-Signature")
	if res.Signature == "" {
		res.Signature = r.Header.Get("X-Signature")
	}

	contentType := r.Header.Get("Content-Type")
	switch {
	case res.Signature == "":
		res.Errors = append(res.Errors, "Missing webhook signature")
	case isForm(contentType):
		vals, err := url.ParseQuery(string(body))
		if err != nil || !VerifyFormSignature(flatten(vals), res.Signature, secret) {
			res.Errors = append(res.Errors, ErrInvalidSignature.Error())
		}
	default:
		if !VerifySignature(body, res.Signature, secret) {
			res.Errors = append(res.Errors, ErrInvalidSignature.Error())
		}
	}

	p, err := ParsePayload(body, contentType)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	} else {
		res.Payload = p
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func flatten(v url.Values) map[string]string {
	out := make(map[string]string, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out
}
