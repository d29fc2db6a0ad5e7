package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quarterwatch/internal/config"
)

func pythBody(price string, expo int, publishTime int64) string {
	return fmt.Sprintf(`{"parsed":[{"id":"feed1","price":{"price":"%s","expo":%d,"publish_time":%d}}]}`,
		price, expo, publishTime)
}

func TestPrice_PrimarySuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pythBody("10425000000000", -8, time.Now().Unix())))
	}))
	defer ts.Close()

	src := New(config.OracleConfig{
		PrimaryURL: ts.URL,
		Staleness:  config.Duration{Duration: time.Minute},
		Timeout:    config.Duration{Duration: 2 * time.Second},
	})

	q, err := src.Price(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if q.Price != 104250 {
		t.Errorf("expected 104250, got %v", q.Price)
	}
}

func TestPrice_FallsBackThroughEndpointList(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pythBody("9900000000000", -8, time.Now().Unix())))
	}))
	defer good.Close()

	src := New(config.OracleConfig{
		PrimaryURL:   bad.URL,
		FallbackURLs: []string{bad.URL, good.URL},
		Staleness:    config.Duration{Duration: time.Minute},
		Timeout:      config.Duration{Duration: 2 * time.Second},
	})

	q, err := src.Price(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if q.Price != 99000 {
		t.Errorf("expected fallback price 99000, got %v", q.Price)
	}
}

func TestPrice_LastKnownValueWithinStaleness(t *testing.T) {
	healthy := true
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(pythBody("10000000000000", -8, time.Now().Unix())))
	}))
	defer ts.Close()

	src := New(config.OracleConfig{
		PrimaryURL: ts.URL,
		Staleness:  config.Duration{Duration: time.Hour},
		Timeout:    config.Duration{Duration: 2 * time.Second},
	})

	if _, err := src.Price(context.Background()); err != nil {
		t.Fatal(err)
	}

	healthy = false
	q, err := src.Price(context.Background())
	if err != nil {
		t.Fatalf("expected last known value while fresh, got %v", err)
	}
	if q.Price != 100000 {
		t.Errorf("expected cached 100000, got %v", q.Price)
	}
}

func TestPrice_StaleWithNoEndpointsIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	src := New(config.OracleConfig{
		PrimaryURL: ts.URL,
		Staleness:  config.Duration{Duration: time.Minute},
		Timeout:    config.Duration{Duration: 2 * time.Second},
	})

	_, err := src.Price(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestResolve_SecondarySpotWhenChainFails(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	spot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"104500.10"}`))
	}))
	defer spot.Close()

	src := New(config.OracleConfig{
		PrimaryURL: bad.URL,
		SpotURL:    spot.URL,
		Staleness:  config.Duration{Duration: time.Minute},
		Timeout:    config.Duration{Duration: 2 * time.Second},
	})

	q, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if q.Price != 104500.10 {
		t.Errorf("expected spot price 104500.10, got %v", q.Price)
	}
}

func TestParsePythPrice(t *testing.T) {
	cases := []struct {
		raw  string
		expo int
		want float64
	}{
		{"10425000000000", -8, 104250},
		{"104250", 0, 104250},
		{"1", 2, 100},
	}
	for _, c := range cases {
		got, err := parsePythPrice(c.raw, c.expo)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("parsePythPrice(%q, %d) = %v, want %v", c.raw, c.expo, got, c.want)
		}
	}

	if _, err := parsePythPrice("not-a-number", 0); err == nil {
		t.Error("expected error for malformed price")
	}
}
