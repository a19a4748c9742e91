package extractor

import "testing"

func TestCheckURLSafetyRejectsUnsafeTargets(t *testing.T) {
	unsafe := []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"http://localhost/admin",
		"http://service.local/internal",
		"http://host.localhost/x",
		"http://127.0.0.1/metrics",
		"http://10.0.0.5/secret",
		"http://192.168.1.1/router",
		"http://172.16.0.1/x",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/x",
		"http://0.0.0.0/x",
	}

	for _, rawURL := range unsafe {
		if err := CheckURLSafety(rawURL); err == nil {
			t.Errorf("Expected %s to be rejected", rawURL)
		}
	}
}

func TestCheckURLSafetyAllowsPublicHosts(t *testing.T) {
	safe := []string{
		"https://example.com/story",
		"http://news.example.org/2026/08/01/title",
		"https://8.8.8.8/x",
	}

	for _, rawURL := range safe {
		if err := CheckURLSafety(rawURL); err != nil {
			t.Errorf("Expected %s to pass, got error: %v", rawURL, err)
		}
	}
}
