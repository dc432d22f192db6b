package mcpmgr

import "testing"

func TestServerPrefixNamespaceToolName(t *testing.T) {
	ns := ServerPrefixNamespace{}
	if got := ns.ToolName("web", "search"); got != "web_search" {
		t.Fatalf("ToolName = %q", got)
	}
	if got := ns.ToolName("web", "web_search"); got != "web_search" {
		t.Fatalf("double prefix not normalized: %q", got)
	}
}

func TestServerPrefixNamespaceLocalName(t *testing.T) {
	ns := ServerPrefixNamespace{}
	cases := map[string]string{
		"web_search": "search",
		"search":     "search",
		"web_":       "web_",
		"webby_tool": "webby_tool",
	}
	for in, want := range cases {
		if got := ns.LocalName("web", in); got != want {
			t.Fatalf("LocalName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestServerPrefixNamespaceCustomSeparator(t *testing.T) {
	ns := ServerPrefixNamespace{Separator: "__"}
	if got := ns.ToolName("web", "search"); got != "web__search" {
		t.Fatalf("ToolName = %q", got)
	}
	if got := ns.LocalName("web", "web__search"); got != "search" {
		t.Fatalf("LocalName = %q", got)
	}
}
