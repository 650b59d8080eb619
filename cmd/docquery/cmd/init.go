package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/namjunsu/docquery/configs"
	"github.com/namjunsu/docquery/internal/config"
	"github.com/namjunsu/docquery/internal/output"
	"github.com/namjunsu/docquery/pkg/version"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a corpus directory",
		Long: `Initialize a directory for docquery.

This writes a .docquery.yaml configuration template, creates the
.docquery data directory, and adds the data directory to .gitignore
when the corpus is a git repository. Every setting in the template is
optional; the defaults work out of the box.`,
		Example: `  # Initialize the current directory
  docquery init

  # Initialize another corpus
  docquery init ./manuals

  # Overwrite an existing configuration template
  docquery init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runInit(cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration template")

	return cmd
}

func runInit(cmd *cobra.Command, path string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	absRoot, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("access corpus path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", absRoot)
	}

	out.Statusf("🚀", "docquery %s", version.Version)
	out.Statusf("📁", "Corpus: %s", absRoot)
	out.Newline()

	cfgPath := filepath.Join(absRoot, config.ProjectFileName)
	if fileExists(cfgPath) && !force {
		out.Status("ℹ️ ", "Existing "+config.ProjectFileName+" preserved (use --force to overwrite)")
	} else {
		if err := os.WriteFile(cfgPath, []byte(configs.DefaultConfigTemplate), 0o644); err != nil {
			return fmt.Errorf("write config template: %w", err)
		}
		out.Statusf("📝", "Created %s", config.ProjectFileName)
	}

	dataDir := filepath.Join(absRoot, config.DataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	out.Statusf("📦", "Data directory: %s", config.DataDirName+string(filepath.Separator))

	added, err := ensureGitignore(absRoot)
	switch {
	case err != nil:
		out.Warningf("Could not update .gitignore: %v", err)
	case added:
		out.Statusf("📝", "Added %s/ to .gitignore", config.DataDirName)
	}

	out.Newline()
	out.Success("Initialization complete")
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "1. Run 'docquery index' to build the search indexes")
	out.Status("", "2. Run 'docquery search \"your question\"' to query the corpus")

	return nil
}

// ensureGitignore appends the data directory to .gitignore. A missing
// .gitignore is only created when the corpus is a git repository, so
// plain document folders stay untouched. Returns whether an entry was
// added.
func ensureGitignore(root string) (bool, error) {
	gitignorePath := filepath.Join(root, ".gitignore")

	content, err := os.ReadFile(gitignorePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
		if !fileExists(filepath.Join(root, ".git")) {
			return false, nil
		}
	}

	if hasDataDirIgnore(string(content)) {
		return false, nil
	}

	entry := "# docquery index data\n" + config.DataDirName + "/\n"
	if len(content) > 0 {
		if content[len(content)-1] != '\n' {
			entry = "\n" + entry
		}
		entry = "\n" + entry
	}

	updated := append(content, []byte(entry)...)
	if err := os.WriteFile(gitignorePath, updated, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// hasDataDirIgnore reports whether any line already ignores the data
// directory, in any of its common spellings.
func hasDataDirIgnore(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case config.DataDirName,
			config.DataDirName + "/",
			"/" + config.DataDirName,
			"/" + config.DataDirName + "/":
			return true
		}
	}
	return false
}
