package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"study-client/internal/study"
	"study-client/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	// A .env next to the binary is the usual way researchers point a
	// lab machine at a non-default service.
	_ = godotenv.Load()

	var (
		flagConfig  string
		flagAPIBase string
		flagArchive string
		flagTheme   string
	)

	root := &cobra.Command{
		Use:     "studycli",
		Short:   "Terminal client for the chatbot evaluation study",
		Long:    "studycli walks a participant through one evaluation session:\na short survey, one or more conversations with the assistant under\ntest, feedback after each, and a closing summary.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flagConfig, flagAPIBase, flagArchive, flagTheme)
			if err != nil {
				return err
			}

			logFile, err := openLog(cfg.LogPath)
			if err != nil {
				return err
			}
			if logFile != nil {
				defer logFile.Close()
			}
			log := study.NewLogger(logFile)

			client := study.NewClient(cfg.BaseURL, cfg.RequestTimeout(), log)
			store := study.NewStore(client, cfg, log)

			if cfg.ArchivePath != "" {
				arc, err := study.NewSQLiteArchive(cfg.ArchivePath)
				if err != nil {
					log.Warn("archive disabled", map[string]any{"path": cfg.ArchivePath, "error": err.Error()})
				} else {
					defer arc.Close()
					store.SetArchiver(arc)
				}
			}

			p := tea.NewProgram(tui.NewModel(store, tui.ThemeName(cfg.Theme)), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: user config dir)")
	root.Flags().StringVar(&flagAPIBase, "api-base", "", "evaluation service base URL")
	root.Flags().StringVar(&flagArchive, "archive", "", "path to the local transcript archive")
	root.Flags().StringVar(&flagTheme, "theme", "", "color theme: porcelain|midnight")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the local transcript archive as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flagConfig, "", "", "")
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("archive")
			if path == "" {
				path = cfg.ArchivePath
			}
			if path == "" {
				return fmt.Errorf("no archive configured; pass --archive or set archive_path in the config")
			}

			arc, err := study.NewSQLiteArchive(path)
			if err != nil {
				return err
			}
			defer arc.Close()

			evalID, _ := cmd.Flags().GetInt64("evaluation")
			dump, err := arc.Export(evalID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(dump)
		},
	}
	exportCmd.Flags().String("archive", "", "path to the transcript archive")
	exportCmd.Flags().Int64("evaluation", 0, "limit the dump to one evaluation id (0 = all)")
	root.AddCommand(exportCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(path, apiBase, archive, theme string) (study.Config, error) {
	if path == "" {
		path = study.DefaultConfigPath()
	}
	cfg, err := study.LoadConfig(path)
	if err != nil {
		return study.Config{}, err
	}
	if apiBase != "" {
		cfg.BaseURL = apiBase
	}
	if archive != "" {
		cfg.ArchivePath = archive
	}
	if theme != "" {
		cfg.Theme = theme
	}
	return cfg, nil
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
