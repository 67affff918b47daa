package lending

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// testRig wires a session, gateway, and client against a fake lending
// service for one test.
type testRig struct {
	session *Session
	gw      *Gateway
	client  *Client
	srv     *httptest.Server
}

func newRig(t *testing.T, handler http.Handler) *testRig {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &Config{APIURL: srv.URL, HTTPTimeout: 5 * time.Second}
	session := NewSession()
	gw := NewGateway(cfg, session)
	return &testRig{session: session, gw: gw, client: NewClient(gw), srv: srv}
}

func jsonError(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func TestGatewayCredentialAttachment(t *testing.T) {
	var gotAuth string
	rig := newRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))

	t.Run("anonymous when no token stored", func(t *testing.T) {
		if err := rig.gw.Do(context.Background(), http.MethodGet, "/books/", nil, nil); err != nil {
			t.Fatalf("request: %v", err)
		}
		if gotAuth != "" {
			t.Fatalf("anonymous request carried Authorization %q", gotAuth)
		}
	})

	t.Run("token attached on the very next call after SetToken", func(t *testing.T) {
		rig.session.SetToken("T1")
		if err := rig.gw.Do(context.Background(), http.MethodGet, "/books/", nil, nil); err != nil {
			t.Fatalf("request: %v", err)
		}
		if gotAuth != "Token T1" {
			t.Fatalf("want 'Token T1', got %q", gotAuth)
		}
	})

	t.Run("no credential after ClearToken", func(t *testing.T) {
		rig.session.ClearToken()
		if err := rig.gw.Do(context.Background(), http.MethodGet, "/books/", nil, nil); err != nil {
			t.Fatalf("request: %v", err)
		}
		if gotAuth != "" {
			t.Fatalf("request after clear carried Authorization %q", gotAuth)
		}
	})
}

func TestGatewayUnauthorizedInvalidatesSession(t *testing.T) {
	rig := newRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonError(w, http.StatusUnauthorized, `{"detail":"invalid token"}`)
	}))

	redirects := 0
	rig.gw.OnUnauthorized(func() { redirects++ })
	rig.session.SetToken("stale")

	err := rig.gw.Do(context.Background(), http.MethodGet, "/users/me/", nil, nil)
	if !IsKind(err, KindUnauthorized) {
		t.Fatalf("want Unauthorized, got %v", err)
	}
	if MessageFor(err) != "invalid token" {
		t.Fatalf("server message not surfaced: %q", MessageFor(err))
	}

	// The invariant: token is absent immediately after the call returns.
	if _, ok := rig.session.Token(); ok {
		t.Fatal("token still present after 401")
	}
	if redirects != 1 {
		t.Fatalf("redirect hook fired %d time(s), want exactly 1", redirects)
	}
}

func TestGatewayErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
		wantMsg  string
	}{
		{"forbidden", http.StatusForbidden, `{"message":"forbidden"}`, KindForbidden, "forbidden"},
		{"not found", http.StatusNotFound, `{"detail":"Not found."}`, KindNotFound, "Not found."},
		{"conflict", http.StatusConflict, `{"message":"copy already borrowed"}`, KindConflict, "copy already borrowed"},
		{"validation", http.StatusBadRequest, `{"error":"File is not a CSV"}`, KindValidation, "File is not a CSV"},
		{"server", http.StatusInternalServerError, ``, KindServer, "the library service reported an error"},
		{"fallback message", http.StatusBadRequest, `{}`, KindValidation, "the request was rejected"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rig := newRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				jsonError(w, tc.status, tc.body)
			}))
			err := rig.gw.Do(context.Background(), http.MethodGet, "/x/", nil, nil)
			if !IsKind(err, tc.wantKind) {
				t.Fatalf("want kind %v, got %v", tc.wantKind, err)
			}
			if got := MessageFor(err); got != tc.wantMsg {
				t.Fatalf("want message %q, got %q", tc.wantMsg, got)
			}
		})
	}
}

func TestGatewayFieldErrorsSurfaced(t *testing.T) {
	rig := newRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonError(w, http.StatusBadRequest, `{"email":["user with this email already exists."],"password":["too short"]}`)
	}))

	err := rig.gw.Do(context.Background(), http.MethodPost, "/users/register/", map[string]string{}, nil)
	if !IsKind(err, KindValidation) {
		t.Fatalf("want Validation, got %v", err)
	}
	apiErr := err.(*APIError)
	if len(apiErr.Fields["email"]) != 1 || len(apiErr.Fields["password"]) != 1 {
		t.Fatalf("field detail lost: %+v", apiErr.Fields)
	}
}

func TestGatewayTransportFailure(t *testing.T) {
	rig := newRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rig.srv.Close() // nothing listening anymore

	err := rig.gw.Do(context.Background(), http.MethodGet, "/books/", nil, nil)
	if !IsKind(err, KindTransport) {
		t.Fatalf("want Transport, got %v", err)
	}
	if MessageFor(err) != "could not reach the library service" {
		t.Fatalf("transport message not displayable: %q", MessageFor(err))
	}
}

func TestGatewayTimeoutResolvesPendingCall(t *testing.T) {
	rig := newRig(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	// Tight deadline; the call must come back as a transport failure
	// instead of hanging the view.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rig.gw.Do(ctx, http.MethodGet, "/books/", nil, nil)
	if !IsKind(err, KindTransport) {
		t.Fatalf("want Transport on timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("call did not resolve promptly on timeout")
	}
}

// Scenario from the session lifecycle: login yields T1, T1 rides every
// request, a 401 clears it, and the next request goes out anonymous.
func TestSessionLifecycleAcrossRequests(t *testing.T) {
	var authSeen []string
	expired := false
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/login/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"T1","user":{"id":1,"username":"ada","email":"a@b.com","is_staff":false}}`))
	})
	mux.HandleFunc("GET /books/", func(w http.ResponseWriter, r *http.Request) {
		authSeen = append(authSeen, r.Header.Get("Authorization"))
		if expired {
			jsonError(w, http.StatusUnauthorized, `{"detail":"token expired"}`)
			return
		}
		w.Write([]byte(`[]`))
	})
	rig := newRig(t, mux)

	token, user, err := rig.client.Login(context.Background(), "a@b.com", "x")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token != "T1" || user == nil || user.Username != "ada" {
		t.Fatalf("unexpected login result: token=%q user=%+v", token, user)
	}
	rig.session.SetToken(token)

	if _, err := rig.client.ListBooks(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if authSeen[0] != "Token T1" {
		t.Fatalf("credential not derived from login token: %q", authSeen[0])
	}

	expired = true
	if _, err := rig.client.ListBooks(context.Background()); !IsKind(err, KindUnauthorized) {
		t.Fatalf("want Unauthorized once expired, got %v", err)
	}

	expired = false
	if _, err := rig.client.ListBooks(context.Background()); err != nil {
		t.Fatalf("list after expiry: %v", err)
	}
	if last := authSeen[len(authSeen)-1]; last != "" {
		t.Fatalf("request after 401 still carried credential %q", last)
	}
}
