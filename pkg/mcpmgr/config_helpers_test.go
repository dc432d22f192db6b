package mcpmgr

import (
	"reflect"
	"testing"
	"time"
)

func TestConfigHelpersDirect(t *testing.T) {
	t.Parallel()

	process := &ProcessTransport{
		Command: "npx",
		Args:    []string{"@modelcontextprotocol/server-everything"},
		Env:     map[string]string{"A": "B"},
	}
	stream := &StreamTransport{
		URL:     "https://example.com/mcp",
		Headers: map[string]string{"Authorization": "Bearer token"},
		Timeout: 10 * time.Second,
	}

	if !IsProcess(process) || IsStream(process) {
		t.Fatalf("IsProcess/IsStream mismatch for process")
	}
	if !IsStream(stream) || IsProcess(stream) {
		t.Fatalf("IsStream/IsProcess mismatch for stream")
	}

	if TransportOf(process) != TransportProcess {
		t.Fatalf("TransportOf(process) = %q", TransportOf(process))
	}
	if TransportOf(stream) != TransportStream {
		t.Fatalf("TransportOf(stream) = %q", TransportOf(stream))
	}
	if TransportOf(nil) != "" {
		t.Fatalf("TransportOf(nil) should be empty")
	}

	if got, ok := AsProcess(process); !ok || got != process {
		t.Fatalf("AsProcess failed")
	}
	if _, ok := AsProcess(stream); ok {
		t.Fatalf("AsProcess should fail for stream")
	}
	if got, ok := AsStream(stream); !ok || got != stream {
		t.Fatalf("AsStream failed")
	}
	if _, ok := AsStream(process); ok {
		t.Fatalf("AsStream should fail for process")
	}
}

func TestDescriptorCloneIsDeep(t *testing.T) {
	t.Parallel()

	prefer := true
	orig := NewServerDescriptor("docs", &StreamTransport{
		URL:       "https://example.com/sse",
		Headers:   map[string]string{"X": "1"},
		PreferSSE: &prefer,
	})
	orig.AllowedTools = []string{"lookup*"}

	clone := orig.Clone()
	if !reflect.DeepEqual(orig, clone) || !orig.Equal(clone) {
		t.Fatalf("clone differs from original")
	}

	st, _ := AsStream(clone.Transport)
	st.Headers["X"] = "2"
	*st.PreferSSE = false
	clone.AllowedTools[0] = "other"

	ost, _ := AsStream(orig.Transport)
	if ost.Headers["X"] != "1" || !*ost.PreferSSE || orig.AllowedTools[0] != "lookup*" {
		t.Fatalf("mutating the clone changed the original: %+v", orig)
	}
	if orig.Equal(clone) {
		t.Fatalf("Equal should notice the changed clone")
	}
}
