package filecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDeleteAccount(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.DeleteAccount(context.Background(), "client-1"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/accounts/client-1" {
		t.Fatalf("request %s %s", gotMethod, gotPath)
	}
}

func TestDeleteAccount_NotFoundIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.DeleteAccount(context.Background(), "ghost"); err != nil {
		t.Fatalf("DeleteAccount on 404: %v", err)
	}
}

func TestDeleteAccount_ServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.DeleteAccount(context.Background(), "client-1"); err == nil {
		t.Fatal("want error on 500")
	}
}
