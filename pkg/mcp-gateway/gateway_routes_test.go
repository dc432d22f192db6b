package mcpgateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Custom routes share the mux with the Streamable endpoint; mounting them
// before or after the server starts must not shadow the gateway's tools.
func TestGatewayServeMuxKeepsStreamableEndpoint(t *testing.T) {
	cases := []struct {
		name       string
		path       string
		route      string
		afterServe bool
	}{
		{name: "before serve", path: "/mcp", route: "/healthz"},
		{name: "after serve", path: "mcp", route: "/late", afterServe: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, err := NewGateway(newCalcManager(t), &Options{Path: tc.path})
			if err != nil {
				t.Fatalf("NewGateway: %v", err)
			}
			defer gateway.Close()

			mount := func() {
				gateway.ServeMux().HandleFunc(tc.route, func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte("ok"))
				})
			}
			if !tc.afterServe {
				mount()
			}
			srv := httptest.NewServer(gateway.Handler())
			defer srv.Close()
			if tc.afterServe {
				mount()
			}

			res, err := http.Get(srv.URL + tc.route)
			if err != nil {
				t.Fatalf("GET %s: %v", tc.route, err)
			}
			body, _ := io.ReadAll(res.Body)
			res.Body.Close()
			if res.StatusCode != http.StatusOK || string(body) != "ok" {
				t.Fatalf("GET %s = %d %q, want 200 \"ok\"", tc.route, res.StatusCode, body)
			}

			client := mcp.NewClient(&mcp.Implementation{Name: "routes-test-client", Version: "1.0.0"}, nil)
			session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{
				Endpoint:   srv.URL + "/mcp",
				HTTPClient: srv.Client(),
			}, nil)
			if err != nil {
				t.Fatalf("connect to gateway: %v", err)
			}
			defer session.Close()
			if got := toolNames(t, session); !slices.Equal(got, []string{"calc_add", "calc_explode"}) {
				t.Fatalf("tools over %s = %v", tc.path, got)
			}
		})
	}
}

func TestNewGatewayRequiresManager(t *testing.T) {
	if _, err := NewGateway(nil, nil); err == nil {
		t.Fatal("expected error for nil manager")
	}
}
