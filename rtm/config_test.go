package rtm

import "testing"

func TestConfigURL(t *testing.T) {
	config := Config{Endpoint: "wss://host.example.com:443", AppKey: "abc123"}
	endpoint, err := config.URL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if endpoint != "wss://host.example.com:443/v2?appkey=abc123" {
		t.Fatalf("unexpected URL %q", endpoint)
	}
}

func TestConfigURLKeepsExplicitPath(t *testing.T) {
	config := Config{Endpoint: "ws://host.example.com/custom", AppKey: "k"}
	endpoint, err := config.URL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if endpoint != "ws://host.example.com/custom?appkey=k" {
		t.Fatalf("unexpected URL %q", endpoint)
	}
}

func TestConfigURLValidation(t *testing.T) {
	cases := []Config{
		{},
		{Endpoint: "wss://host.example.com"},
		{AppKey: "k"},
		{Endpoint: "https://host.example.com", AppKey: "k"},
		{Endpoint: "://bad", AppKey: "k"},
	}
	for _, config := range cases {
		if _, err := config.URL(); err == nil {
			t.Fatalf("expected error for config %+v", config)
		}
	}
}
