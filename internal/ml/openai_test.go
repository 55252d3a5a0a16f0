package ml

import "testing"

func TestSplitURI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		bucket  string
		prefix  string
		wantErr bool
	}{
		{name: "bucket and prefix", uri: "store://topic-ingestion/twitter/input/run1", bucket: "topic-ingestion", prefix: "twitter/input/run1"},
		{name: "bucket only", uri: "store://topic-inference", bucket: "topic-inference"},
		{name: "no scheme", uri: "topic-ingestion/twitter", bucket: "topic-ingestion", prefix: "twitter"},
		{name: "empty bucket", uri: "store:///prefix", wantErr: true},
		{name: "empty", uri: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, prefix, err := splitURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("splitURI(%q) expected error, got %q/%q", tt.uri, bucket, prefix)
				}
				return
			}
			if err != nil {
				t.Fatalf("splitURI(%q): %v", tt.uri, err)
			}
			if bucket != tt.bucket || prefix != tt.prefix {
				t.Errorf("splitURI(%q) = %q/%q, want %q/%q", tt.uri, bucket, prefix, tt.bucket, tt.prefix)
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"lang":"en"}`, `{"lang":"en"}`},
		{"```json\n{\"lang\":\"en\"}\n```", `{"lang":"en"}`},
		{"```\n{\"lang\":\"en\"}\n```", `{"lang":"en"}`},
		{"  {\"lang\":\"en\"}  ", `{"lang":"en"}`},
	}

	for _, tt := range tests {
		if got := stripCodeFence(tt.in); got != tt.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")

	cfg := ConfigFromEnv()
	if cfg.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.APIKey)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", cfg.Model)
	}
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}, nil, nil); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
