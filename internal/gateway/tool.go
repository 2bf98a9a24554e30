package gateway

import "cloudeng.io/webapp/devserver"

type ToolKind int

const (
	ToolNone ToolKind = iota
	ToolHMR
)

func (k ToolKind) String() string {
	if k == ToolHMR {
		return "hmr"
	}
	return "none"
}

// Tool describes the frontend tool behind the upstream. The zero value is
// NoTool.
type Tool struct {
	kind    ToolKind
	name    string
	hmrPath string
}

// NoTool is a tool without a hot-reload socket; only plain HTTP is proxied.
func NoTool() Tool { return Tool{kind: ToolNone} }

// HMRTool is a tool that pushes reload notifications over a websocket at
// hmrPath.
func HMRTool(name, hmrPath string) Tool {
	return Tool{kind: ToolHMR, name: name, hmrPath: hmrPath}
}

func Vite() Tool { return HMRTool("vite", "/vite-hmr") }

func Webpack() Tool { return HMRTool("webpack", "/ws") }

func (t Tool) Kind() ToolKind { return t.kind }

func (t Tool) Name() string {
	if t.name == "" {
		return t.kind.String()
	}
	return t.name
}

// HMRPath is empty for tools without a hot-reload socket.
func (t Tool) HMRPath() string {
	if t.kind != ToolHMR {
		return ""
	}
	return t.hmrPath
}

func (t Tool) String() string {
	if t.kind == ToolHMR {
		return t.Name() + "(hmr=" + t.hmrPath + ")"
	}
	return t.Name()
}

// ToolByName resolves the presets plus "none". ok is false for other names.
func ToolByName(name string) (Tool, bool) {
	switch name {
	case "", "none":
		return NoTool(), true
	case "vite":
		return Vite(), true
	case "webpack":
		return Webpack(), true
	}
	return Tool{}, false
}

// urlExtractor returns the parser for the address the tool prints when it
// starts listening, or nil if the tool is unknown.
func (t Tool) urlExtractor() devserver.URLExtractor {
	switch t.name {
	case "vite":
		return devserver.NewViteURLExtractor(nil)
	case "webpack":
		return devserver.NewWebpackURLExtractor(nil)
	}
	return nil
}
