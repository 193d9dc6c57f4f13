// Package render colors and indents the terminal output of a test session.
package render

import (
	"os"
	"strings"

	"github.com/gookit/color"
	"golang.org/x/term"

	"github.com/project-chip/certification-tool-cli/internal/defs"
)

// NoColorEnvVar disables colors when set to a truthy value.
const NoColorEnvVar = "THCLI_NO_COLOR"

var stateColors = map[defs.TestState]color.Color{
	defs.TestStatePassed:           color.Green,
	defs.TestStateFailed:           color.Red,
	defs.TestStateError:            color.Red,
	defs.TestStateCancelled:        color.LightRed,
	defs.TestStateExecuting:        color.Yellow,
	defs.TestStatePending:          color.LightWhite,
	defs.TestStatePendingActuation: color.LightWhite,
	defs.TestStateNotApplicable:    color.Gray,
}

var runnerStateColors = map[defs.RunnerState]color.Color{
	defs.RunnerStateIdle:    color.Gray,
	defs.RunnerStateReady:   color.Green,
	defs.RunnerStateLoading: color.Yellow,
	defs.RunnerStateRunning: color.Red,
}

var hierarchyColors = map[defs.UpdateLevel]color.Color{
	defs.UpdateLevelRun:   color.Blue,
	defs.UpdateLevelSuite: color.Magenta,
	defs.UpdateLevelCase:  color.Cyan,
	defs.UpdateLevelStep:  color.Gray,
}

var hierarchyIndents = map[defs.UpdateLevel]string{
	defs.UpdateLevelRun:   "",
	defs.UpdateLevelSuite: "  - ",
	defs.UpdateLevelCase:  "      - ",
	defs.UpdateLevelStep:  "            - ",
}

// TextKind selects a color for a part of a log message.
type TextKind int

// Text kinds.
const (
	TextHeader TextKind = iota
	TextKey
	TextValue
	TextHelp
	TextDump
	TextSuccess
	TextError
)

var textColors = map[TextKind]color.Color{
	TextHeader:  color.LightBlue,
	TextKey:     color.LightBlue,
	TextValue:   color.Gray,
	TextHelp:    color.Gray,
	TextDump:    color.Gray,
	TextSuccess: color.Green,
	TextError:   color.Red,
}

func envDisablesColor() bool {
	switch strings.ToLower(os.Getenv(NoColorEnvVar)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Renderer formats session output. Colors are dropped when disabled
// explicitly, by environment or when stdout is not a terminal.
type Renderer struct {
	NoColor bool

	enabled bool
}

// Initialize initializes a Renderer.
func (r *Renderer) Initialize() {
	r.enabled = !r.NoColor &&
		!envDisablesColor() &&
		term.IsTerminal(int(os.Stdout.Fd()))
}

// Enabled reports whether colors are emitted.
func (r *Renderer) Enabled() bool {
	return r.enabled
}

// State formats a state as a bracketed uppercase tag.
func (r *Renderer) State(state defs.TestState) string {
	tag := "[" + strings.ToUpper(string(state)) + "]"
	if !r.enabled {
		return tag
	}

	co, ok := stateColors[state]
	if !ok {
		co = color.White
	}
	return color.New(co, color.OpBold).Sprint(tag)
}

// RunnerState formats the remote runner state.
func (r *Renderer) RunnerState(state defs.RunnerState) string {
	tag := strings.ToUpper(string(state))
	if !r.enabled {
		return tag
	}

	co, ok := runnerStateColors[state]
	if !ok {
		co = color.White
	}

	style := color.New(co, color.OpBold)
	if state == defs.RunnerStateRunning {
		style = append(style, color.OpBlink)
	}
	return style.Sprint(tag)
}

// Hierarchy colors a title according to its level in the run tree.
func (r *Renderer) Hierarchy(text string, level defs.UpdateLevel) string {
	if !r.enabled {
		return text
	}

	co, ok := hierarchyColors[level]
	if !ok {
		co = color.White
	}
	return co.Sprint(text)
}

// UpdateLine formats one state-transition line, indented by level.
func (r *Renderer) UpdateLine(level defs.UpdateLevel, title string, state defs.TestState) string {
	return hierarchyIndents[level] + r.Hierarchy(title, level) + " " + r.State(state)
}

// Text colors a log message part.
func (r *Renderer) Text(text string, kind TextKind) string {
	if !r.enabled {
		return text
	}
	return textColors[kind].Sprint(text)
}

// Italic renders prompt text in italics.
func (r *Renderer) Italic(text string) string {
	if !r.enabled {
		return text
	}
	return color.OpItalic.Sprint(text)
}
