package banner

import (
	"connswarm/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
   ______                  _____
  / ____/___  ____  ____  / ___/      ________________ ___
 / /   / __ \/ __ \/ __ \ \__ \ | /| / / __ '/ ___/ __ '__ \
/ /___/ /_/ / / / / / / /___/ / |/ |/ / /_/ / /  / / / / / /
\____/\____/_/ /_/_/ /_//____/|__/|__/\__,_/_/  /_/ /_/ /_/  `

	return "\n" + style.Render(ascii) + "\n"
}
