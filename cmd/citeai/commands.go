package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/citeai/citeai/internal/api"
	"github.com/citeai/citeai/internal/config"
	"github.com/citeai/citeai/internal/devproxy"
	"github.com/citeai/citeai/internal/export"
	"github.com/citeai/citeai/internal/paper"
	"github.com/citeai/citeai/internal/prefs"
	"github.com/citeai/citeai/internal/reference"
	"github.com/citeai/citeai/internal/sections"
)

var defaultSections = []string{"Abstract", "Introduction", "Methodology", "Results", "Discussion", "Conclusion"}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a paper on the running server",
	Long: `Generate a paper on the running server.

Examples:
  citeai generate --topic "Ocean acidification" --words 1200
  citeai generate --topic "Soil carbon" --sections Abstract,Introduction,Conclusion --out paper.md
  citeai generate --topic "Graph neural networks" --background notes.pdf --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		words, _ := cmd.Flags().GetInt("words")
		secs, _ := cmd.Flags().GetStringSlice("sections")
		model, _ := cmd.Flags().GetString("model")
		background, _ := cmd.Flags().GetString("background")
		out, _ := cmd.Flags().GetString("out")
		asJSON, _ := cmd.Flags().GetBool("json")

		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("--topic is required")
		}

		req := paper.Request{
			Topic:     topic,
			WordLimit: words,
			Sections:  cleanSections(secs),
			Model:     model,
		}
		if background != "" {
			text, err := reference.Load(background)
			if err != nil {
				return fmt.Errorf("loading background: %w", err)
			}
			req.Background = text
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if !asJSON {
			printStep("Generating %q (%d words, %d sections)...", req.Topic, req.WordLimit, len(req.Sections))
		}
		start := time.Now()
		resp, err := client.post(cmd.Context(), "/api/papers", req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		res, err := paper.DecodeResult(body)
		if err != nil {
			return responseError(resp, body)
		}

		if asJSON {
			os.Stdout.Write(body)
			fmt.Fprintln(os.Stdout)
		}

		switch r := res.(type) {
		case *paper.Failure:
			return r
		case *paper.Success:
			r.Sections = r.Sections.WithLabels(req.Sections)
			if !asJSON {
				printPaper(os.Stdout, req.Topic, r)
				printSuccess("Paper %s generated in %s", resp.Header.Get(api.PaperIDHeader), time.Since(start).Round(time.Millisecond))
			}
			if out != "" {
				if err := writeExport(out, req.Topic, r.Sections); err != nil {
					return err
				}
				printSuccess("Saved to %s", out)
			}
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().String("topic", "", "paper topic (required)")
	generateCmd.Flags().Int("words", 1000, "approximate word limit")
	generateCmd.Flags().StringSlice("sections", defaultSections, "comma-separated section names, in order")
	generateCmd.Flags().String("model", "", "model id (default: server preference)")
	generateCmd.Flags().String("background", "", "text, Markdown or PDF file used as source material")
	generateCmd.Flags().String("out", "", "write the paper to a .md or .html file")
	generateCmd.Flags().Bool("json", false, "print the raw result JSON")
}

func cleanSections(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// printPaper writes every section under a bold heading followed by the scores.
func printPaper(w io.Writer, topic string, s *paper.Success) {
	fmt.Fprintf(w, "%s\n\n", colorize(topic, color.Bold, color.Underline))
	for _, sec := range s.Sections.Sections() {
		label := sec.Label
		if label == "" {
			label = sec.Key
		}
		fmt.Fprintf(w, "%s\n%s\n\n", colorize(label, color.Bold), strings.TrimSpace(sec.Body))
	}
	printStatus("Words", "%d", s.WordCount)
	printStatus("Readability", "%d/100", s.ReadabilityScore)
	if s.SimulatedPlagiarism != nil {
		printStatus("Plagiarism (simulated)", "%d%%", *s.SimulatedPlagiarism)
	}
	if s.Model != "" {
		printStatus("Model", "%s", s.Model)
	}
}

func writeExport(path, title string, secs sections.Map) error {
	doc, err := export.Render(export.FormatForPath(path), title, secs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// --- papers ---

var papersCmd = &cobra.Command{
	Use:   "papers",
	Short: "Browse generated papers",
}

var papersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent papers",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/papers?limit=%d", limit))
		if err != nil {
			return err
		}

		var result struct {
			Papers []api.PaperSummary `json:"papers"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Papers) == 0 {
			fmt.Println("No papers found.")
			return nil
		}
		return renderTable(os.Stdout, []string{"ID", "Created", "Topic", "Words", "Readability"}, paperRows(result.Papers))
	},
}

func paperRows(papers []api.PaperSummary) [][]string {
	rows := make([][]string, 0, len(papers))
	for _, p := range papers {
		rows = append(rows, []string{
			p.ID,
			p.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(p.Topic, 60),
			strconv.Itoa(p.WordCount),
			strconv.Itoa(p.ReadabilityScore),
		})
	}
	return rows
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var papersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a paper",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/papers/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var rec api.PaperRecord
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		res, err := paper.DecodeResult(rec.Result)
		if err != nil {
			return err
		}
		switch r := res.(type) {
		case *paper.Success:
			r.Sections = r.Sections.WithLabels(rec.Sections)
			printPaper(os.Stdout, rec.Topic, r)
		case *paper.Failure:
			printError("%s", r.Message)
		}
		printStatus("Created", "%s", rec.CreatedAt.Local().Format(time.RFC1123))
		return nil
	},
}

var papersExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a paper as Markdown or HTML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		f, err := export.ParseFormat(format)
		if err != nil {
			return err
		}
		if format == "" && out != "" {
			f = export.FormatForPath(out)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/api/papers/%s/export?format=%s", url.PathEscape(args[0]), f)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return responseError(resp, nil)
		}

		w := io.Writer(os.Stdout)
		if out != "" {
			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer file.Close()
			w = file
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return err
		}
		if out != "" {
			printSuccess("Exported to %s", out)
		}
		return nil
	},
}

var papersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a paper from history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/papers/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted paper %s", args[0])
		return nil
	},
}

func init() {
	papersListCmd.Flags().Int("limit", 20, "maximum number of papers to list")
	papersShowCmd.Flags().Bool("json", false, "print the stored record as JSON")
	papersExportCmd.Flags().String("format", "", "md or html (default: from --out, else md)")
	papersExportCmd.Flags().String("out", "", "output file path (default: stdout)")
	papersCmd.AddCommand(papersListCmd)
	papersCmd.AddCommand(papersShowCmd)
	papersCmd.AddCommand(papersExportCmd)
	papersCmd.AddCommand(papersDeleteCmd)
}

// --- providers ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage development proxy providers",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/providers")
		if err != nil {
			return err
		}
		var result struct {
			Providers []devproxy.Provider `json:"providers"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Providers) == 0 {
			fmt.Println("No providers registered.")
			return nil
		}
		rows := make([][]string, 0, len(result.Providers))
		for _, p := range result.Providers {
			key := "no"
			if p.HasKey {
				key = "yes"
			}
			rows = append(rows, []string{p.ID, p.Label, p.BaseURL, key})
		}
		return renderTable(os.Stdout, []string{"ID", "Label", "Base URL", "Key"}, rows)
	},
}

var providersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a provider",
	Long: `Register a provider with the development proxy.

Requires the admin token (proxy.admin_token) when the server has one set.

Example:
  citeai providers add --id deepseek/deepseek-r1 --label "DeepSeek R1" --base-url https://api.example.com/deepseek`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		label, _ := cmd.Flags().GetString("label")
		baseURL, _ := cmd.Flags().GetString("base-url")
		apiKey, _ := cmd.Flags().GetString("api-key")

		if id == "" || baseURL == "" {
			return fmt.Errorf("--id and --base-url are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/providers", devproxy.NewProvider{
			ID:      id,
			Label:   label,
			BaseURL: baseURL,
			APIKey:  apiKey,
		})
		if err != nil {
			return err
		}
		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Added provider %s", id)
		return nil
	},
}

var providersStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe every provider for availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/models/status")
		if err != nil {
			return err
		}
		var result struct {
			Models []devproxy.Status `json:"models"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		return renderTable(os.Stdout, []string{"ID", "Label", "Status", "Latency"}, statusRows(result.Models))
	},
}

func statusRows(models []devproxy.Status) [][]string {
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		state := colorize("down", color.FgRed)
		if m.Available {
			state = colorize("up", color.FgGreen)
		}
		latency := "-"
		if m.LatencyMS != nil {
			latency = fmt.Sprintf("%dms", *m.LatencyMS)
		}
		rows = append(rows, []string{m.ID, m.Label, state, latency})
	}
	return rows
}

func init() {
	providersAddCmd.Flags().String("id", "", "model id routed to this provider (required)")
	providersAddCmd.Flags().String("label", "", "display label")
	providersAddCmd.Flags().String("base-url", "", "upstream URL (required)")
	providersAddCmd.Flags().String("api-key", "", "upstream API key")
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersAddCmd)
	providersCmd.AddCommand(providersStatusCmd)
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change site preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/prefs")
		if err != nil {
			return err
		}
		var p prefs.Preferences
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		printStatus("Theme", "%s", p.Theme)
		printStatus("Model", "%s", p.Model)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:       "set <theme|model> <value>",
	Short:     "Set a preference",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"theme", "model"},
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := prefsPatch(args[0], args[1])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/api/prefs", body)
		if err != nil {
			return err
		}
		var result struct {
			OK          bool              `json:"ok"`
			Preferences prefs.Preferences `json:"preferences"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result.OK {
			printWarning("Preference applied but could not be saved; it will reset on restart")
			return nil
		}
		printSuccess("Set %s = %s", strings.ToLower(args[0]), args[1])
		return nil
	},
}

func prefsPatch(name, value string) (map[string]string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "theme":
		return map[string]string{"theme": value}, nil
	case "model":
		return map[string]string{"model": value}, nil
	default:
		return nil, fmt.Errorf("unknown preference %q (want theme or model)", name)
	}
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var rows [][]string
		for _, k := range config.ShowAll(cfg) {
			rows = append(rows, []string{k.Key, k.Value, k.EnvVar})
		}
		if err := renderTable(os.Stdout, []string{"Key", "Value", "Env"}, rows); err != nil {
			return err
		}
		if !cfg.HasAPIKey() {
			printWarning("provider.api_key is not set")
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (API key or admin token); an empty value removes it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetSecret(key, value); err != nil {
			return err
		}

		if value == "" {
			printSuccess("Removed %s", key)
		} else {
			printSuccess("Stored %s", key)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
