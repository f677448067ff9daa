package node

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestInteractiveSend(t *testing.T) {
	var gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/context" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var update ContextUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			t.Errorf("Failed to decode update: %v", err)
		}
		gotText = update.Text
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewInteractiveClient(InteractiveConfig{BaseURL: server.URL})
	err := client.Send(context.Background(), ContextUpdate{Text: "Current mood: content."})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotText != "Current mood: content." {
		t.Errorf("Server received %q", gotText)
	}
}

func TestInteractiveSendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewInteractiveClient(InteractiveConfig{BaseURL: server.URL})
	if err := client.Send(context.Background(), ContextUpdate{Text: "x"}); err == nil {
		t.Error("Expected error on 500 response")
	}
}

func TestInteractiveInterrupt(t *testing.T) {
	var hit atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/interrupt" {
			hit.Store(true)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewInteractiveClient(InteractiveConfig{BaseURL: server.URL})
	if err := client.Interrupt(context.Background()); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
	if !hit.Load() {
		t.Error("Interrupt endpoint not hit")
	}
}

func TestInteractiveEventsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		events := []StreamEvent{
			{Kind: EventPartialText, Text: "Hello"},
			{Kind: EventPartialText, Text: " there"},
			{Kind: EventFinalText, Text: "Hello there"},
		}
		for _, ev := range events {
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		// Hold the connection open until the client goes away.
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewInteractiveClient(InteractiveConfig{
		BaseURL:          server.URL,
		ReconnectBackoff: 10 * time.Millisecond,
	})
	stream := client.Events(ctx)

	var got []StreamEvent
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case ev, ok := <-stream:
			if !ok {
				t.Fatal("Stream closed before all events arrived")
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("Timed out with %d events", len(got))
		}
	}

	// Order within a connection is preserved.
	if got[0].Text != "Hello" || got[1].Text != " there" {
		t.Errorf("Events out of order: %+v", got)
	}
	if got[2].Kind != EventFinalText {
		t.Errorf("Expected final event last, got %s", got[2].Kind)
	}
	if got[0].ReceivedAt.IsZero() {
		t.Error("ReceivedAt not stamped")
	}
}

func TestInteractiveEventsReconnect(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		payload, _ := json.Marshal(StreamEvent{Kind: EventFinalText, Text: fmt.Sprintf("conn-%d", n)})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		// Return immediately: the connection drops and the client must
		// reconnect.
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewInteractiveClient(InteractiveConfig{
		BaseURL:          server.URL,
		ReconnectBackoff: 5 * time.Millisecond,
	})
	stream := client.Events(ctx)

	texts := map[string]bool{}
	timeout := time.After(5 * time.Second)
	for len(texts) < 2 {
		select {
		case ev := <-stream:
			texts[ev.Text] = true
		case <-timeout:
			t.Fatalf("Expected events from 2 connections, saw %v", texts)
		}
	}
}

func TestInteractiveEventsClosesOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewInteractiveClient(InteractiveConfig{
		BaseURL:          server.URL,
		ReconnectBackoff: 5 * time.Millisecond,
	})
	stream := client.Events(ctx)

	cancel()
	select {
	case _, ok := <-stream:
		if ok {
			// Drain any buffered event; the channel must close soon after.
			for range stream {
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stream did not close after cancel")
	}
}

func TestInteractiveEventsSkipsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not json}\n\n")
		payload, _ := json.Marshal(StreamEvent{Kind: EventFinalText, Text: "ok"})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewInteractiveClient(InteractiveConfig{BaseURL: server.URL})
	stream := client.Events(ctx)

	select {
	case ev := <-stream:
		if ev.Text != "ok" {
			t.Errorf("Expected malformed event skipped, got %q", ev.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for valid event")
	}
}

func TestReasoningSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task" {
			http.NotFound(w, r)
			return
		}
		var req taskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode task: %v", err)
		}
		if req.TaskID == "" || req.Input == "" {
			t.Errorf("Incomplete task request: %+v", req)
		}
		json.NewEncoder(w).Encode(TaskResult{Status: "success", Output: "ports 22, 80 open"})
	}))
	defer server.Close()

	client := NewReasoningClient(ReasoningConfig{BaseURL: server.URL})
	result, err := client.Submit(context.Background(), "task-1", "scan the network", "Known facts: none.")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Status != "success" {
		t.Errorf("Status = %q, want success", result.Status)
	}
	if result.Output != "ports 22, 80 open" {
		t.Errorf("Output = %q", result.Output)
	}
}

func TestReasoningSubmitErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TaskResult{Status: "error", Output: "tool unavailable"})
	}))
	defer server.Close()

	client := NewReasoningClient(ReasoningConfig{BaseURL: server.URL})
	result, err := client.Submit(context.Background(), "task-2", "do thing", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// An error status is still a terminal result, not a transport failure.
	if result.Status != "error" {
		t.Errorf("Status = %q, want error", result.Status)
	}
}

func TestReasoningSubmitUnknownStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TaskResult{Status: "maybe", Output: "?"})
	}))
	defer server.Close()

	client := NewReasoningClient(ReasoningConfig{BaseURL: server.URL})
	if _, err := client.Submit(context.Background(), "task-3", "x", ""); err == nil {
		t.Error("Expected error for unknown status")
	}
}

func TestReasoningSubmitRespectsContext(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Read the body first so the server notices the client going away.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewReasoningClient(ReasoningConfig{BaseURL: server.URL})

	done := make(chan error, 1)
	go func() {
		_, err := client.Submit(ctx, "task-4", "slow task", "")
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error after context cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not return after cancel")
	}
}

func TestReasoningCancel(t *testing.T) {
	var gotID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cancel" {
			http.NotFound(w, r)
			return
		}
		var req cancelRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotID = req.TaskID
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewReasoningClient(ReasoningConfig{BaseURL: server.URL})
	if err := client.Cancel(context.Background(), "task-5"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if gotID != "task-5" {
		t.Errorf("Cancel sent id %q", gotID)
	}
}
