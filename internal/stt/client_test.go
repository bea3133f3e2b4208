package stt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBuildWAVHeader(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms at 16kHz mono
	wav := buildWAV(pcm, SampleRate, 1, 16)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length: got %d want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad RIFF magic: %q %q", wav[0:4], wav[8:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != SampleRate {
		t.Fatalf("sample rate: got %d", rate)
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 1 {
		t.Fatalf("channels: got %d", ch)
	}
	if dl := binary.LittleEndian.Uint32(wav[40:44]); dl != uint32(len(pcm)) {
		t.Fatalf("data length: got %d", dl)
	}
}

func TestRecognize(t *testing.T) {
	var gotCT, gotLang, gotCID string
	var gotLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		gotCID = r.Header.Get("X-Correlation-ID")
		gotLang = r.URL.Query().Get("language")
		b, _ := io.ReadAll(r.Body)
		gotLen = len(b)
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"alternatives": []map[string]string{{"transcript": "  hello "}}},
				{"alternatives": []map[string]string{{"transcript": "world"}}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "en-US", 5*time.Second)
	pcm := make([]byte, 32000)
	got, err := c.Recognize(context.Background(), pcm, "cid-1")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("transcript: got %q", got)
	}
	if gotCT != "audio/wav" {
		t.Fatalf("content type: got %q", gotCT)
	}
	if gotLang != "en-US" {
		t.Fatalf("language: got %q", gotLang)
	}
	if gotCID != "cid-1" {
		t.Fatalf("correlation id: got %q", gotCID)
	}
	if gotLen != 44+len(pcm) {
		t.Fatalf("body length: got %d", gotLen)
	}
}

func TestRecognizeEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", 5*time.Second)
	got, err := c.Recognize(context.Background(), make([]byte, 1600), "")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestRecognizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", 5*time.Second)
	if _, err := c.Recognize(context.Background(), make([]byte, 1600), ""); err == nil {
		t.Fatalf("expected error on 500")
	}
}
