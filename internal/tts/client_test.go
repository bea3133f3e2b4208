package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSynthesize(t *testing.T) {
	var gotReq synthesizeRequest
	audio := []byte("OggS fake opus payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "audio/ogg")
		w.Write(audio)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "en-US", "en-US-Neural2-C", 5*time.Second)
	got, err := c.Synthesize(context.Background(), "say this", "cid-9")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Fatalf("audio mismatch: got %d bytes", len(got))
	}
	if gotReq.Text != "say this" || gotReq.LanguageCode != "en-US" || gotReq.VoiceName != "en-US-Neural2-C" {
		t.Fatalf("request: %+v", gotReq)
	}
}

func TestSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", "", 5*time.Second)
	if _, err := c.Synthesize(context.Background(), "hi", ""); err == nil {
		t.Fatalf("expected error on 404")
	}
}

func TestSynthesizeUnconfigured(t *testing.T) {
	var c *Client
	if _, err := c.Synthesize(context.Background(), "hi", ""); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
