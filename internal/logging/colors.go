package logging

import "github.com/fatih/color"

// Level and timestamp decorations. The color package disables itself when
// the output is not a terminal (or NO_COLOR is set).
var (
	timestampColor = color.New(color.FgWhite)

	errorColor = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgRed)
	infoColor  = color.New(color.Reset)
	debugColor = color.New(color.FgGreen)
	traceColor = color.New(color.FgYellow)
)
