package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/frisk-from-paris/Chanina/pkg/chanina"
	"github.com/frisk-from-paris/Chanina/pkg/libretto"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	builtinStyle = lipgloss.NewStyle().Faint(true)
	shapeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered libretti",
	Long: `List the libretti this process image registers, including the built-ins.
User libretti registered by a worker binary do not appear here.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := buildApp(true)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderRegistry(app))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func renderRegistry(app *chanina.App) string {
	registry := app.Libretti()
	titles := make([]string, 0, len(registry))
	for title := range registry {
		titles = append(titles, title)
	}
	sort.Strings(titles)

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Registered libretti (%d)", len(titles))))
	b.WriteString("\n")
	for _, title := range titles {
		shape := "bare"
		if registry[title].Shape() == libretto.ShapeSession {
			shape = "session"
		}

		line := title
		if strings.HasPrefix(title, chanina.ReservedPrefix) {
			line = builtinStyle.Render(title + " (built-in)")
		}
		b.WriteString(fmt.Sprintf("  %s  %s\n", line, shapeStyle.Render(shape)))
	}
	return b.String()
}
