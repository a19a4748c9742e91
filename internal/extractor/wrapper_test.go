package extractor

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func encodeWrapperToken(target string) string {
	payload := []byte(target)
	data := []byte{0x08, 0x13, 0x22}
	if len(payload) < 0x80 {
		data = append(data, byte(len(payload)))
	} else {
		data = append(data, byte(len(payload)&0x7f|0x80), byte(len(payload)>>7))
	}
	data = append(data, payload...)
	return base64.RawURLEncoding.EncodeToString(data)
}

func TestIsWrapperURL(t *testing.T) {
	cases := map[string]bool{
		"https://news.google.com/rss/articles/ABC123?oc=5": true,
		"https://news.google.com/articles/ABC123":          true,
		"https://news.google.com/topstories":               false,
		"https://example.com/articles/ABC123":              false,
		"not a url":                                        false,
	}

	for rawURL, expected := range cases {
		if got := IsWrapperURL(rawURL); got != expected {
			t.Errorf("IsWrapperURL(%q) = %v, expected %v", rawURL, got, expected)
		}
	}
}

func TestDecodeWrapperToken(t *testing.T) {
	target := "https://publisher.example/story"
	token := encodeWrapperToken(target)

	decoded, ok := decodeWrapperToken(token)
	if !ok {
		t.Fatal("Expected token to decode")
	}
	if decoded != target {
		t.Errorf("Expected %q, got %q", target, decoded)
	}
}

func TestDecodeWrapperTokenLongURL(t *testing.T) {
	target := "https://publisher.example/a-very-long-path/" + strings.Repeat("segment/", 20) + "story"
	if len(target) < 0x80 {
		t.Fatalf("Test URL must exceed the one-byte length limit, got %d", len(target))
	}
	token := encodeWrapperToken(target)

	decoded, ok := decodeWrapperToken(token)
	if !ok {
		t.Fatal("Expected two-byte length token to decode")
	}
	if decoded != target {
		t.Errorf("Expected %q, got %q", target, decoded)
	}
}

func TestDecodeWrapperTokenRejectsGarbage(t *testing.T) {
	bad := []string{
		"",
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x02, 0x03, 0x04, 0x05}),
		// Valid prefix but the payload is not a URL.
		base64.RawURLEncoding.EncodeToString(append([]byte{0x08, 0x13, 0x22, 0x05}, []byte("hello")...)),
	}
	for _, token := range bad {
		if decoded, ok := decodeWrapperToken(token); ok {
			t.Errorf("Expected token %q to fail, decoded to %q", token, decoded)
		}
	}
}

func TestResolveWrapperURLLocalDecode(t *testing.T) {
	target := "https://publisher.example/story"
	wrapperURL := "https://news.google.com/rss/articles/" + encodeWrapperToken(target)

	e := New(Options{}, &http.Client{Transport: failTransport{}}, nil)
	resolved := e.resolveWrapperURL(context.Background(), wrapperURL)
	if resolved != target {
		t.Errorf("Expected local decode to %q, got %q", target, resolved)
	}
}

func TestResolveWrapperURLBatchExecute(t *testing.T) {
	target := "https://publisher.example/decoded-story"
	// An opaque token the local decoder cannot handle.
	token := base64.RawURLEncoding.EncodeToString([]byte("opaque-new-format-token"))
	wrapperURL := "https://news.google.com/rss/articles/" + token

	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, batchExecutePath) {
			body := `)]}'` + "\n" + `[["wrb.fr","Fbv4je","[[\"garturlres\",\"` + target + `\",1]]"]]`
			return textResponse(http.StatusOK, body), nil
		}
		page := `<html><body><c-wiz data-n-a-sg="SIG123" data-n-a-ts="1700000000"></c-wiz></body></html>`
		return textResponse(http.StatusOK, page), nil
	})

	e := New(Options{FetchTimeout: time.Second}, &http.Client{Transport: transport}, nil)
	resolved := e.resolveWrapperURL(context.Background(), wrapperURL)
	if resolved != target {
		t.Errorf("Expected batch execute decode to %q, got %q", target, resolved)
	}
}

func TestResolveWrapperURLFallsBackToWrapper(t *testing.T) {
	token := base64.RawURLEncoding.EncodeToString([]byte("opaque-new-format-token"))
	wrapperURL := "https://news.google.com/rss/articles/" + token

	e := New(Options{FetchTimeout: time.Second}, &http.Client{Transport: failTransport{}}, nil)
	resolved := e.resolveWrapperURL(context.Background(), wrapperURL)
	if resolved != wrapperURL {
		t.Errorf("Expected fallback to the wrapper URL, got %q", resolved)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type failTransport struct{}

func (failTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return nil, io.ErrUnexpectedEOF
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
