package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chumtheme/preview"
	"chumtheme/theme"
)

var (
	exportFormat string
	exportRaw    bool
	checkAssets  bool
	forceInstall bool
	cascade      bool
)

var errInvalidTheme = errors.New("theme has errors")

func addThemeCommands(root *cobra.Command) {
	validateCmd := &cobra.Command{
		Use:   "validate [theme|path/to/style.js]...",
		Short: "Validate themes (all loaded themes when none are named)",
		RunE:  runValidate,
	}
	validateCmd.Flags().BoolVar(&checkAssets, "assets", false, "Check that referenced image files exist")

	getCmd := &cobra.Command{
		Use:   "get <theme> <key>",
		Short: "Print the value at a slash-separated key, such as main/chums/moods/chummy",
		Args:  cobra.ExactArgs(2),
		RunE:  runGet,
	}

	moodsCmd := &cobra.Command{
		Use:   "moods <theme>",
		Short: "Preview a theme's mood buttons and chum list colors",
		Args:  cobra.ExactArgs(1),
		RunE:  runMoods,
	}

	exportCmd := &cobra.Command{
		Use:   "export <theme>",
		Short: "Print a theme document as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json or yaml")
	exportCmd.Flags().BoolVar(&exportRaw, "raw", false, "Keep $path unresolved")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded themes",
		Args:  cobra.NoArgs,
		Run:   runList,
	}

	root.AddCommand(validateCmd, getCmd, moodsCmd, exportCmd, listCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	themeManager := openThemes(cfg)

	if len(args) == 0 {
		args = themeManager.List()
		for name, err := range themeManager.Failures() {
			fmt.Printf("%s: failed to load: %v\n", name, err)
		}
	}

	failed := 0
	for _, arg := range args {
		t, err := themeManager.Theme(arg)
		if err != nil {
			info, statErr := os.Stat(arg)
			if statErr != nil {
				return err
			}
			path := arg
			if info.IsDir() {
				path = filepath.Join(arg, theme.StyleFile)
			}
			if t, err = theme.LoadFile(path); err != nil {
				return err
			}
		}

		report := t.Validate(checkAssets)
		if len(report.Issues) == 0 {
			fmt.Printf("%s: ok\n", report.Theme)
			continue
		}
		fmt.Printf("%s: %d errors, %d warnings\n", report.Theme, len(report.Errors()), len(report.Warnings()))
		for _, issue := range report.Issues {
			fmt.Printf("  %s\n", issue)
		}
		if !report.OK() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalidTheme, failed, len(args))
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	t, err := openThemes(cfg).Theme(args[0])
	if err != nil {
		return err
	}
	v, err := t.Lookup(args[1])
	if err != nil {
		return err
	}
	if s, ok := v.(string); ok {
		fmt.Println(s)
		return nil
	}
	out, err := json.MarshalIndent(v, "", " ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runMoods(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	t, err := openThemes(cfg).Theme(args[0])
	if err != nil {
		return err
	}
	out, err := preview.Render(t)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	t, err := openThemes(cfg).Theme(args[0])
	if err != nil {
		return err
	}
	doc := t.Document()
	if exportRaw {
		doc = t.Raw()
	}
	switch strings.ToLower(exportFormat) {
	case "json":
		return theme.Encode(os.Stdout, doc)
	case "yaml", "yml":
		return theme.EncodeYAML(os.Stdout, doc)
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", exportFormat)
	}
}

func runList(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	themeManager := openThemes(cfg)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tINHERITS\tPATH")
	for _, name := range themeManager.List() {
		t, err := themeManager.Theme(name)
		if err != nil {
			continue
		}
		inherits := t.Inherits()
		if inherits == "" {
			inherits = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, inherits, t.Path())
	}
	tw.Flush()

	failures := themeManager.Failures()
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: failed to load: %v\n", name, failures[name])
	}
}

func addRepoCommands(root *cobra.Command) {
	repoCmd := &cobra.Command{
		Use:   "repo",
		Short: "Theme repository management",
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Download the repository database",
		Args:  cobra.NoArgs,
		RunE:  runRepoRefresh,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List themes in the cached repository database",
		Args:  cobra.NoArgs,
		RunE:  runRepoList,
	}

	installCmd := &cobra.Command{
		Use:   "install <theme>",
		Short: "Install or update a theme and the themes it inherits from",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoInstall,
	}
	installCmd.Flags().BoolVar(&forceInstall, "force", false, "Reinstall an up-to-date theme and ignore missing parents")

	uninstallCmd := &cobra.Command{
		Use:   "uninstall <theme>",
		Short: "Remove a theme installed from the repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoUninstall,
	}
	uninstallCmd.Flags().BoolVar(&cascade, "cascade", true, "Also remove installed themes that inherit from it")

	repoCmd.AddCommand(refreshCmd, listCmd, installCmd, uninstallCmd)
	root.AddCommand(repoCmd)
}

func runRepoRefresh(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	store, repoManager := openRepo(cmd.Context(), cfg, openThemes(cfg))
	defer store.Close()

	res, err := repoManager.Refresh(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s themes (database v%d)\n", res.URL, humanize.Comma(int64(res.Entries)), res.FormatVersion)
	if len(res.Updates) > 0 {
		fmt.Printf("updates available: %s\n", strings.Join(res.Updates, ", "))
	}
	return nil
}

func runRepoList(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	store, repoManager := openRepo(cmd.Context(), cfg, openThemes(cfg))
	defer store.Close()

	entries := repoManager.Entries()
	if len(entries) == 0 {
		fmt.Println("no repository database cached; run `chumtheme repo refresh`")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tAUTHOR\tINHERITS\tSIZE\tUPDATED\tSTATUS")
	for _, e := range entries {
		status := ""
		switch {
		case repoManager.HasUpdate(e.Name):
			status = "update available"
		case repoManager.IsInstalled(e.Name):
			status = "installed"
		}
		size, updated := "-", "-"
		if e.Size > 0 {
			size = humanize.Bytes(uint64(e.Size))
		}
		if e.Updated > 0 {
			updated = humanize.Time(time.Unix(e.Updated, 0))
		}
		fmt.Fprintf(tw, "%s\tv%d\t%s\t%s\t%s\t%s\t%s\n", e.Name, e.Version, e.Author, e.Inherits, size, updated, status)
	}
	return tw.Flush()
}

func runRepoInstall(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	store, repoManager := openRepo(cmd.Context(), cfg, openThemes(cfg))
	defer store.Close()

	if err := repoManager.Install(cmd.Context(), args[0], forceInstall); err != nil {
		return err
	}
	e, _ := repoManager.Entry(args[0])
	fmt.Printf("installed %s v%d\n", e.Name, e.Version)
	return nil
}

func runRepoUninstall(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	store, repoManager := openRepo(cmd.Context(), cfg, openThemes(cfg))
	defer store.Close()

	removed, err := repoManager.Uninstall(args[0], cascade)
	if err != nil {
		return err
	}
	fmt.Printf("removed %s\n", strings.Join(removed, ", "))
	return nil
}
