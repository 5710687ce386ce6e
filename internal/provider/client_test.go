package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDiscoverAudits_PaginatesFromLastModified(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		q := r.URL.Query()
		if q.Get("archived") != "false" {
			t.Errorf("expected archived=false, got %q", q.Get("archived"))
		}
		if _, ok := q["completed"]; ok {
			t.Errorf("completed=both must omit the parameter")
		}
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			fmt.Fprint(w, `{"count":2,"total":3,"audits":[
				{"audit_id":"a1","modified_at":"2024-01-01T00:00:00Z"},
				{"audit_id":"a2","modified_at":"2024-01-02T00:00:00Z"}]}`)
		default:
			if q.Get("modified_after") != "2024-01-02T00:00:00Z" {
				t.Errorf("unexpected modified_after %q", q.Get("modified_after"))
			}
			fmt.Fprint(w, `{"count":2,"total":2,"audits":[
				{"audit_id":"a2","modified_at":"2024-01-02T00:00:00Z"},
				{"audit_id":"a3","modified_at":"2024-01-03T00:00:00Z"}]}`)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", time.Second)
	refs, err := client.DiscoverAudits(context.Background(), AuditQuery{Completed: FilterBoth, Archived: FilterFalse})
	if err != nil {
		t.Fatalf("discover returned error: %v", err)
	}
	if len(refs) != 4 {
		t.Fatalf("expected 4 raw entries (boundary repeated), got %d", len(refs))
	}
	if refs[1].ID != "a2" || refs[2].ID != "a2" {
		t.Fatalf("expected boundary duplicate, got %s %s", refs[1].ID, refs[2].ID)
	}
}

func TestDiscoverAudits_StalledPageIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count":2,"total":3,"audits":[
			{"audit_id":"a1","modified_at":"2024-01-05T00:00:00Z"},
			{"audit_id":"a2","modified_at":"2024-01-05T00:00:00Z"}]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", time.Second, WithPageSize(2))
	refs, err := client.DiscoverAudits(context.Background(), AuditQuery{Completed: FilterBoth, Archived: FilterBoth})
	if !errors.Is(err, ErrPagingStalled) {
		t.Fatalf("expected ErrPagingStalled, got %v", err)
	}
	if refs != nil {
		t.Fatalf("expected no partial result, got %d refs", len(refs))
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stalled paging must not be classified as unauthorized")
	}
}

func TestClient_UnauthorizedIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "nope", time.Second).FetchAudit(context.Background(), "a1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected APIError 401, got %v", err)
	}
}

func TestFetchReport_PollsUntilReady(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/audits/a1/report", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["format"] != "PDF" || body["preference_id"] != "pref_1" {
			t.Errorf("unexpected body %v", body)
		}
		fmt.Fprint(w, `{"messageId":"m1"}`)
	})
	mux.HandleFunc("/audits/a1/report/m1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 2 {
			fmt.Fprint(w, `{"status":"IN_PROGRESS"}`)
			return
		}
		fmt.Fprintf(w, `{"status":"SUCCESS","url":%q}`, srv.URL+"/files/m1.pdf")
	})
	mux.HandleFunc("/files/m1.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "%PDF-1.7")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, "tok", time.Second, WithReportPolling(time.Millisecond, 5))
	data, err := client.FetchReport(context.Background(), "a1", "pref_1", "PDF")
	if err != nil {
		t.Fatalf("fetch report: %v", err)
	}
	if string(data) != "%PDF-1.7" {
		t.Fatalf("unexpected report bytes %q", data)
	}
}

func TestDiscoverActions_PagesByOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req actionsSearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Offset == 0 {
			fmt.Fprint(w, `{"actions":[
				{"action_id":"x1","modified_at":"2024-02-01T00:00:00Z"},
				{"action_id":"x2","modified_at":"2024-02-02T00:00:00Z"}]}`)
			return
		}
		fmt.Fprint(w, `{"actions":[{"action_id":"x3","modified_at":"2024-02-03T00:00:00Z"}]}`)
	}))
	defer srv.Close()

	records, err := NewClient(srv.URL, "tok", time.Second, WithPageSize(2)).
		DiscoverActions(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("discover actions: %v", err)
	}
	if len(records) != 3 || records[2].ID != "x3" {
		t.Fatalf("unexpected records %+v", records)
	}
}
