package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"text":" turn off the kitchen light ","language":"en"}`)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, nil)
	tr, err := c.Transcribe(context.Background(), []byte("fake-wav"))
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if tr.Text != "turn off the kitchen light" {
		t.Errorf("Text = %q (whitespace should be trimmed)", tr.Text)
	}
	if tr.Language != "en" {
		t.Errorf("Language = %q, want en", tr.Language)
	}
}

func TestWhisperTranscribeNoSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"  ","language":""}`)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, nil)
	_, err := c.Transcribe(context.Background(), []byte("silence"))
	if !errors.Is(err, ErrNoSpeech) {
		t.Errorf("err = %v, want ErrNoSpeech", err)
	}
}

func TestWhisperTranscribeDefaultLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"bonjour"}`)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, nil)
	tr, err := c.Transcribe(context.Background(), []byte("audio"))
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if tr.Language != "en" {
		t.Errorf("missing language should default to en, got %q", tr.Language)
	}
}
