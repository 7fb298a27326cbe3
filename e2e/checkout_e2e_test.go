//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultCheckoutHTTPBase  = "http://localhost:48081"
	defaultCheckoutGRPCAddr  = "localhost:49091"
	defaultCheckoutJWTSecret = "e2e-jwt-secret"
	defaultCheckoutIPNSecret = "e2e-ipn-secret"
)

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpClient) do(t *testing.T, method, path string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", fmt.Sprintf("e2e-http-%d", time.Now().UnixNano()))
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}
	return resp, bodyBytes
}

func userToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(envOrDefault("CHECKOUT_JWT_SECRET", defaultCheckoutJWTSecret)))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

func waitForGRPCHealth(addr string, timeout time.Duration) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		cancel()
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("grpc health not serving at %s", addr)
}

func TestCheckoutE2E(t *testing.T) {
	httpBase := envOrDefault("CHECKOUT_HTTP_URL", defaultCheckoutHTTPBase)
	grpcAddr := envOrDefault("CHECKOUT_GRPC_ADDR", defaultCheckoutGRPCAddr)
	ipnSecret := envOrDefault("CHECKOUT_IPN_SECRET", defaultCheckoutIPNSecret)

	if err := waitForHTTP(httpBase, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}
	if err := waitForGRPCHealth(grpcAddr, 30*time.Second); err != nil {
		t.Fatalf("grpc not ready: %v", err)
	}

	client := newHTTPClient(httpBase)

	t.Run("RequestIDEchoedOrGenerated", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodGet, "/health", nil, map[string]string{"X-Request-ID": "e2e-fixed"})
		if got := resp.Header.Get("X-Request-ID"); got != "e2e-fixed" {
			t.Fatalf("expected echoed request id, got %q", got)
		}

		req, _ := http.NewRequest(http.MethodGet, httpBase+"/health", nil)
		raw, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		raw.Body.Close()
		if raw.Header.Get("X-Request-ID") == "" {
			t.Fatal("expected generated request id")
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodOptions, "/payments/invoice", nil, map[string]string{
			"Origin":                         "https://shop.example",
			"Access-Control-Request-Method":  http.MethodPost,
			"Access-Control-Request-Headers": "authorization, content-type",
		})
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("expected 204 preflight, got %d", resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("expected wildcard origin, got %q", got)
		}
	})

	t.Run("CheckoutRequiresBearerToken", func(t *testing.T) {
		resp, body := client.do(t, http.MethodPost, "/payments/invoice", []byte(`{"items":[],"email":"buyer@x.com"}`), nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d: %s", resp.StatusCode, body)
		}
	})

	t.Run("CheckoutValidation", func(t *testing.T) {
		headers := map[string]string{"Authorization": "Bearer " + userToken(t, "e2e-user")}
		cases := []struct {
			body string
			want string
		}{
			{`{"items":[],"email":"buyer@x.com"}`, "No items provided"},
			{`{"items":[{"id":"a","name":"A","price":1}],"email":"nope"}`, "Valid email required"},
			{`{"items":[{"id":"a","name":"A","price":0}],"email":"buyer@x.com"}`, "Invalid amount"},
		}
		for _, tc := range cases {
			resp, body := client.do(t, http.MethodPost, "/payments/invoice", []byte(tc.body), headers)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400 for %s, got %d: %s", tc.body, resp.StatusCode, body)
			}
			var errResp types.ErrorResponse
			if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error != tc.want {
				t.Fatalf("expected %q, got %s", tc.want, body)
			}
		}
	})

	t.Run("WebhookRejectsBadSignature", func(t *testing.T) {
		payload := []byte(`{"payment_status":"finished","invoice_id":"e2e-unknown"}`)
		resp, body := client.do(t, http.MethodPost, "/webhooks/nowpayments", payload, map[string]string{
			types.NotificationSignatureHeader: strings.Repeat("0", 128),
		})
		if resp.StatusCode != http.StatusForbidden || string(body) != "Invalid signature" {
			t.Fatalf("expected 403 Invalid signature, got %d: %s", resp.StatusCode, body)
		}
	})

	t.Run("WebhookUnknownPaymentAcknowledged", func(t *testing.T) {
		payload := []byte(fmt.Sprintf(`{"payment_status":"finished","invoice_id":"e2e-%d"}`, time.Now().UnixNano()))
		sig, err := provider.SignNotification(ipnSecret, payload)
		if err != nil {
			t.Fatalf("sign notification: %v", err)
		}
		resp, body := client.do(t, http.MethodPost, "/webhooks/nowpayments", payload, map[string]string{
			types.NotificationSignatureHeader: sig,
		})
		if resp.StatusCode != http.StatusOK || string(body) != "OK" {
			t.Fatalf("expected 200 OK, got %d: %s", resp.StatusCode, body)
		}
	})

	t.Run("InternalOrdersAccess", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodGet, "/internal/orders?payment_id=e2e-none", nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 without api key, got %d", resp.StatusCode)
		}

		resp, _ = client.do(t, http.MethodGet, "/internal/orders?payment_id=e2e-none", nil, map[string]string{"X-API-Key": checkoutNoAccessAPIKey()})
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 for caller without access, got %d", resp.StatusCode)
		}

		resp, body := client.do(t, http.MethodGet, "/internal/orders?payment_id=e2e-none", nil, map[string]string{"X-API-Key": checkoutCallerAPIKey()})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}
		var list types.ListOrdersResponse
		if err := json.Unmarshal(body, &list); err != nil || len(list.Orders) != 0 {
			t.Fatalf("expected empty order list, got %s", body)
		}

		resp, _ = client.do(t, http.MethodGet, "/internal/orders", nil, map[string]string{"X-API-Key": checkoutCallerAPIKey()})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 without payment_id, got %d", resp.StatusCode)
		}
	})
}
