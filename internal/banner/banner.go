package banner

import (
	"shapebench/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
       _                    _                     _
   ___| |__   __ _ _ __   ___| |__   ___ _ __   ___| |__
  / __| '_ \ / _' | '_ \ / _ \ '_ \ / _ \ '_ \ / __| '_ \
  \__ \ | | | (_| | |_) |  __/ |_) |  __/ | | | (__| | | |
  |___/_| |_|\__,_| .__/ \___|_.__/ \___|_| |_|\___|_| |_|
                  |_|`

	return "\n" + style.Render(ascii) + "\n"
}
