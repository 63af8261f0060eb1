package webfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testFetcher() *Fetcher {
	// httptest servers bind loopback, which the default guard blocks.
	return New(Config{URLValidator: func(string) error { return nil }})
}

func TestFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	res, err := testFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(res.Body), "hello") {
		t.Errorf("body: %q", res.Body)
	}
	if len(res.Hash) != 64 {
		t.Errorf("hash length: %d", len(res.Hash))
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	res, err := testFetcher().Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 410")
	}
	if res == nil || res.StatusCode != http.StatusGone {
		t.Errorf("result: %+v", res)
	}
}

func TestValidateURL(t *testing.T) {
	bad := []string{
		"ftp://example.com/x",
		"file:///etc/passwd",
		"http://localhost/admin",
		"http://127.0.0.1:8080/",
		"http://10.0.0.5/",
		"http://192.168.1.1/",
		"http://0.0.0.0/",
	}
	for _, u := range bad {
		if err := ValidateURL(u); err == nil {
			t.Errorf("ValidateURL(%q) should fail", u)
		}
	}
	if err := ValidateURL("https://example.com/page"); err != nil {
		t.Errorf("ValidateURL(public): %v", err)
	}
}
