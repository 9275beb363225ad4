package chatwoot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_CreateAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/platform/api/v1/accounts" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("api_access_token") != "test-token" {
			t.Error("Expected api_access_token header")
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body["name"] != "Acme Inc" {
			t.Errorf("Expected account name Acme Inc, got %q", body["name"])
		}

		json.NewEncoder(w).Encode(Account{ID: 42, Name: "Acme Inc"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	account, err := client.CreateAccount(context.Background(), "Acme Inc")
	if err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	if account.ID != 42 {
		t.Errorf("Expected account ID 42, got %d", account.ID)
	}
}

func TestClient_CreateUser_SendsGeneratedPassword(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body["email"] != "jamie@example.com" {
			t.Errorf("Expected email jamie@example.com, got %q", body["email"])
		}
		if len(body["password"]) != passwordLength {
			t.Errorf("Expected %d-char password, got %d", passwordLength, len(body["password"]))
		}

		json.NewEncoder(w).Encode(User{ID: 7, Name: "Jamie", Email: "jamie@example.com"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	user, err := client.CreateUser(context.Background(), "Jamie", "jamie@example.com")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if user.ID != 7 {
		t.Errorf("Expected user ID 7, got %d", user.ID)
	}
}

func TestClient_GetUserLoginURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/platform/api/v1/users/7/login" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"url": "https://desk.example.com/sso?token=abc"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	url, err := client.GetUserLoginURL(context.Background(), 7)
	if err != nil {
		t.Fatalf("Failed to get login URL: %v", err)
	}
	if url != "https://desk.example.com/sso?token=abc" {
		t.Errorf("Unexpected login URL: %s", url)
	}
}

func TestClient_AddAccountUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/platform/api/v1/accounts/42/account_users" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body["role"] != "administrator" {
			t.Errorf("Expected role administrator, got %v", body["role"])
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	err := client.AddAccountUser(context.Background(), 42, 7, RoleAdministrator)
	if err != nil {
		t.Fatalf("Failed to add account user: %v", err)
	}
}

func TestClient_NonSuccessStatusBecomesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Resource could not be found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	_, err := client.GetAccount(context.Background(), 99)
	if err == nil {
		t.Fatal("Expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", apiErr.StatusCode)
	}
	if apiErr.Body == "" {
		t.Error("Expected error body to be captured")
	}
}

func TestClient_DeleteAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/platform/api/v1/accounts/42" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	if err := client.DeleteAccount(context.Background(), 42); err != nil {
		t.Fatalf("Failed to delete account: %v", err)
	}
}
