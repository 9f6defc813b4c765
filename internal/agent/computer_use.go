package agent

// ComputerUseConfig carries the display geometry a tool needs to opt into
// Anthropic's computer-use beta tool variant.
type ComputerUseConfig struct {
	DisplayWidthPx  int
	DisplayHeightPx int
	DisplayNumber   int
}

// ComputerUseConfigProvider is implemented by tools that want the
// Anthropic provider to negotiate the computer-use beta instead of the
// standard tool-use request shape.
type ComputerUseConfigProvider interface {
	ComputerUseConfig() *ComputerUseConfig
}
