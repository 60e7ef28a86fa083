package keymap

// Theme defines semantic color mappings using ANSI color indices (0-15).
// The user's terminal theme determines the actual RGB values, so the app
// automatically matches any color scheme.
type Theme struct {
	UserMsg  int // User input accent
	Question int // Follow-up questions
	Table    int // Table headers
	Error    int // Error messages
	Success  int // Success indicators
	Muted    int // Status bar, placeholders
	Dirty    int // Unsaved edit markers
	Accent   int // Titles
}

// DefaultTheme returns the default ANSI color mapping.
func DefaultTheme() Theme {
	return Theme{
		UserMsg:  4,
		Question: 6,
		Table:    3,
		Error:    1,
		Success:  2,
		Muted:    8,
		Dirty:    3,
		Accent:   5,
	}
}
