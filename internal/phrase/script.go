package phrase

// DefaultScript is the built-in coaching script registered at startup.
// Dynamic phrases from analysis results are added on top of these.
var DefaultScript = []string{
	"Begin your swing.",
	"Great shot!",
	"Keep your head down.",
	"Slow down your backswing.",
	"Follow through to the target.",
	"Relax your grip.",
	"Nice tempo, keep it up.",
	"Square the club face at impact.",
	"Shift your weight to the front foot.",
	"Recording started.",
	"Recording stopped.",
	"Analysis complete.",
}
