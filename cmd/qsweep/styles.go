package main

import "github.com/charmbracelet/lipgloss"

// Centralized style definitions for terminal output.
var (
	// Leaderboard styles.
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")) // cyan
	bestStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")) // green
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))            // gray

	// Winner block style.
	summaryStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("2"))
)
