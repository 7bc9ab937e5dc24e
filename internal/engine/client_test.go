package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/daryltucker/portrait-runner/internal/model"
)

func TestHTTPPipeline_Execute(t *testing.T) {
	var got model.Job
	var requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = r.Header.Get("X-Request-ID")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch {
		case strings.Contains(got.Source, "noface"):
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":{"code":"no_face_detected","message":"No face detected in the source image!"}}`))
		case strings.Contains(got.Source, "oom"):
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"code":"internal","message":"CUDA out of memory"}}`))
		case strings.Contains(got.Source, "soft"):
			w.Write([]byte(`{"status":"error","error":{"code":"bad_driving","message":"unreadable driving image"}}`))
		default:
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srv.Close()

	p := NewHTTPPipeline(srv.URL, 5*time.Second, "run-42")

	tests := []struct {
		source  string
		wantErr bool
		noFace  bool
	}{
		{"/src/face_1.png", false, false},
		{"/src/noface_2.png", true, true},
		{"/src/oom_3.png", true, false},
		{"/src/soft_4.png", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			err := p.Execute(context.Background(), testJob(tt.source))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrNoFaceDetected) != tt.noFace {
				t.Errorf("no-face classification wrong: %v", err)
			}
			if got.Source != tt.source || got.Inference.AnimationRegion != "all" {
				t.Errorf("server saw job %+v", got)
			}
			if requestID != "run-42" {
				t.Errorf("X-Request-ID = %q", requestID)
			}
		})
	}
}

func TestHTTPPipeline_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewHTTPPipeline(srv.URL, 5*time.Second, "")
	err := p.Execute(ctx, testJob("/src/face_1.png"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}
