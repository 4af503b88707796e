// ABOUTME: HTTPAdapter executes any VendorProfile over JSON/HTTP.
// ABOUTME: Maps vendor HTTP failures onto the sync error taxonomy.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harperreed/healthsync/internal/idempotency"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
	"go.uber.org/zap"
)

// MaxResponseSize caps how much of a vendor response is read.
const MaxResponseSize = 10 * 1024 * 1024

// HTTPAdapter talks to a vendor described by a VendorProfile.
type HTTPAdapter struct {
	profile VendorProfile
	client  *http.Client
	keys    *idempotency.Store
	logger  *zap.Logger
}

// NewHTTPAdapter creates an adapter for profile. keys may be nil, in which case pushes
// are not deduplicated locally.
func NewHTTPAdapter(profile VendorProfile, client *http.Client, keys *idempotency.Store, logger *zap.Logger) *HTTPAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAdapter{profile: profile, client: client, keys: keys, logger: logger}
}

// Vendor returns the vendor this adapter serves.
func (a *HTTPAdapter) Vendor() models.Vendor {
	return a.profile.Vendor
}

// Capabilities returns the metric types the vendor serves.
func (a *HTTPAdapter) Capabilities() []models.MetricType {
	return a.profile.Capabilities
}

// Profile returns the adapter's vendor profile.
func (a *HTTPAdapter) Profile() VendorProfile {
	return a.profile
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

// Authenticate exchanges linking credentials for an access token.
func (a *HTTPAdapter) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	const op = "authenticate"
	body, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}

	var resp authResponse
	if err := a.do(ctx, op, http.MethodPost, a.profile.AuthPath, nil, "", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", syncerr.New(syncerr.AuthFailed, op, "vendor returned no access token")
	}
	return Token(resp.AccessToken), nil
}

type wireSample struct {
	Type       string    `json:"type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Source     string    `json:"source,omitempty"`
	ID         string    `json:"id,omitempty"`
}

type samplesResponse struct {
	Samples []wireSample `json:"samples"`
}

// FetchMetrics pulls raw samples of the given types in w.
func (a *HTTPAdapter) FetchMetrics(ctx context.Context, token Token, types []models.MetricType, w Window) ([]models.RawSample, error) {
	op := "fetch " + joinTypes(types)
	q := url.Values{}
	for _, mt := range types {
		q.Add("type", string(mt))
	}
	q.Set("start", w.Start.UTC().Format(time.RFC3339))
	q.Set("end", w.End.UTC().Format(time.RFC3339))

	var resp samplesResponse
	if err := a.do(ctx, op, http.MethodGet, a.profile.SamplesPath, q, token, nil, nil, &resp); err != nil {
		return nil, err
	}

	samples := make([]models.RawSample, 0, len(resp.Samples))
	for _, ws := range resp.Samples {
		mt := models.MetricType(ws.Type)
		s := models.RawSample{
			MetricType: mt,
			Value:      ws.Value,
			Unit:       ws.Unit,
			OccurredAt: ws.OccurredAt,
			RecordedAt: ws.RecordedAt,
			Confidence: 1,
			Source:     models.Source(ws.Source),
			ExternalID: ws.ID,
		}
		if s.Unit == "" {
			s.Unit = a.profile.Unit(mt)
		}
		if ws.Confidence != nil {
			s.Confidence = *ws.Confidence
		}
		if s.RecordedAt.IsZero() {
			s.RecordedAt = s.OccurredAt
		}
		if s.Source == "" {
			s.Source = models.SourceAutomatic
		}
		samples = append(samples, s)
	}

	a.logger.Debug("fetched samples",
		zap.String("vendor", string(a.profile.Vendor)),
		zap.String("metric_types", joinTypes(types)),
		zap.Int("count", len(samples)))
	return samples, nil
}

type pushResponse struct {
	Accepted int `json:"accepted"`
}

// PushMetrics writes a batch back to the vendor at most once per idempotency key.
func (a *HTTPAdapter) PushMetrics(ctx context.Context, token Token, batch PushBatch) (Ack, error) {
	const op = "push"
	if batch.IdempotencyKey == "" {
		return Ack{}, syncerr.New(syncerr.DataInvalid, op, "idempotency key is required")
	}

	key := string(a.profile.Vendor) + ":" + batch.IdempotencyKey
	if a.keys != nil {
		prev, claimed, err := a.keys.Claim(key)
		if err != nil {
			return Ack{}, err
		}
		if !claimed {
			if prev == nil {
				return Ack{}, syncerr.New(syncerr.SyncFailed, op, "push with this idempotency key is already in flight")
			}
			var ack Ack
			if err := json.Unmarshal(prev, &ack); err != nil {
				return Ack{}, fmt.Errorf("unmarshal stored ack: %w", err)
			}
			ack.Duplicate = true
			return ack, nil
		}
	}

	ack, err := a.push(ctx, op, token, batch)
	if err != nil {
		if a.keys != nil {
			if ferr := a.keys.Forget(key); ferr != nil {
				a.logger.Warn("release push key", zap.String("key", key), zap.Error(ferr))
			}
		}
		return Ack{}, err
	}

	if a.keys != nil {
		stored, err := json.Marshal(ack)
		if err != nil {
			return Ack{}, fmt.Errorf("marshal ack: %w", err)
		}
		if _, err := a.keys.Remember(key, stored); err != nil {
			return Ack{}, err
		}
	}
	return ack, nil
}

func (a *HTTPAdapter) push(ctx context.Context, op string, token Token, batch PushBatch) (Ack, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return Ack{}, fmt.Errorf("marshal push batch: %w", err)
	}
	headers := map[string]string{"Idempotency-Key": batch.IdempotencyKey}

	var resp pushResponse
	if err := a.do(ctx, op, http.MethodPost, a.profile.PushPath, nil, token, headers, body, &resp); err != nil {
		return Ack{}, err
	}
	return Ack{IdempotencyKey: batch.IdempotencyKey, Accepted: resp.Accepted}, nil
}

type batteryResponse struct {
	Level int `json:"level"`
}

// BatteryLevel reports the device battery percentage when the vendor exposes it.
func (a *HTTPAdapter) BatteryLevel(ctx context.Context, token Token) (int, error) {
	const op = "battery"
	if a.profile.BatteryPath == "" {
		return 0, syncerr.New(syncerr.UnknownError, op, "vendor does not report battery level")
	}
	var resp batteryResponse
	if err := a.do(ctx, op, http.MethodGet, a.profile.BatteryPath, nil, token, nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Level, nil
}

// do executes one request and decodes a JSON response into out.
func (a *HTTPAdapter) do(ctx context.Context, op, method, path string, q url.Values, token Token, headers map[string]string, body []byte, out interface{}) error {
	u := strings.TrimRight(a.profile.BaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(a.profile.AuthHeader, a.profile.TokenPrefix+string(token))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return syncerr.Wrap(syncerr.NetworkError, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return syncerr.Wrap(syncerr.NetworkError, op, err)
	}

	if err := classifyStatus(op, resp, data); err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return syncerr.Wrap(syncerr.UnknownError, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classifyStatus maps a non-2xx response onto the error taxonomy.
func classifyStatus(op string, resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	msg := fmt.Sprintf("HTTP %d: %s", code, strings.TrimSpace(string(body)))

	switch {
	case code == http.StatusUnauthorized:
		return syncerr.New(syncerr.AuthFailed, op, msg)
	case code == http.StatusForbidden:
		return syncerr.New(syncerr.PermissionDenied, op, msg)
	case code == http.StatusTooManyRequests:
		after, _ := ParseRetryAfter(resp.Header.Get("Retry-After"))
		e := syncerr.RateLimitedAfter(op, after)
		e.Message = msg
		return e
	case code >= 500:
		return syncerr.New(syncerr.NetworkError, op, msg)
	default:
		return syncerr.New(syncerr.UnknownError, op, msg)
	}
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("invalid Retry-After value: %s", value)
}

func joinTypes(types []models.MetricType) string {
	s := make([]string, len(types))
	for i, mt := range types {
		s[i] = string(mt)
	}
	return strings.Join(s, ",")
}
