package console

import (
	"github.com/fatih/color"

	"github.com/mklimuk/oxygen"
)

// Available ANSI colors
var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
)

func Status(s oxygen.Status) string {
	switch s {
	case oxygen.StatusHealthy:
		return Green(s)
	case oxygen.StatusWarning:
		return Yellow(s)
	default:
		return Red(s)
	}
}
