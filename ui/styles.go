package ui

import "github.com/charmbracelet/lipgloss"

var (
	normalDim = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	gray      = lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}
	midGray   = lipgloss.AdaptiveColor{Light: "#B2B2B2", Dark: "#4A4A4A"}
	darkGray  = lipgloss.AdaptiveColor{Light: "#DDDADA", Dark: "#3C3C3C"}
	green     = lipgloss.Color("#04B575")
	fuchsia   = lipgloss.Color("#EE6FF8")
	yellow    = lipgloss.Color("#ECFD65")
	red       = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}

	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}

	statusBarNoteFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}
	statusBarBg     = lipgloss.AdaptiveColor{Light: "#E6E6E6", Dark: "#242424"}
)

var (
	logoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ECFD65")).
			Background(fuchsia).
			Bold(true)

	titleStyle = lipgloss.NewStyle().Bold(true)

	subtleStyle = lipgloss.NewStyle().Foreground(gray)

	dimStyle = lipgloss.NewStyle().Foreground(normalDim)

	selectedStyle = lipgloss.NewStyle().
			Foreground(fuchsia).
			Bold(true)

	selectionBarStyle = lipgloss.NewStyle().
				Foreground(fuchsia).
				SetString("│")

	errorTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F1F1F1")).
			Background(red).
			Padding(0, 1)

	errorTextStyle = lipgloss.NewStyle().Foreground(red)

	warningStyle = lipgloss.NewStyle().Foreground(yellow)

	readyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#656565", Dark: "#B2B2B2"}).
			Bold(true)

	connectingStyle = lipgloss.NewStyle().
			Foreground(yellow).
			Bold(true)

	liveStyle = lipgloss.NewStyle().
			Foreground(green).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(midGray).
			Padding(1, 2)

	helpKeyStyle  = lipgloss.NewStyle().Foreground(gray)
	helpDescStyle = lipgloss.NewStyle().Foreground(darkGray)

	statusBarNoteStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(statusBarBg).
				Render

	statusBarMessageStyle = lipgloss.NewStyle().
				Foreground(mintGreen).
				Background(darkGreen).
				Render
)

func logoView() string {
	return logoStyle.Render(" Narad ")
}
