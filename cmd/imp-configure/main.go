package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/imp-platform/imp/apply"
	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/common/logging"
	"github.com/imp-platform/imp/config"
	"github.com/imp-platform/imp/inventory"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the persisted configuration document.
	ConfigPath string
	// ModulesDir is the path to the installed module catalog.
	ModulesDir string
	// Debug enables debug logging.
	Debug bool
}

var rootCmd = &cobra.Command{
	Use:           "imp-configure",
	Short:         "Compile declared router intent into dataplane, routing and service configuration",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmd.ConfigPath, "config", "c", config.DefaultConfigPath, "Path to the configuration document")
	rootCmd.PersistentFlags().StringVarP(&cmd.ModulesDir, "modules-dir", "m", catalog.DefaultDefinitionsDir, "Path to the module catalog")
	rootCmd.PersistentFlags().BoolVar(&cmd.Debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(applyCmd, validateCmd, renderCmd, inventoryCmd, modulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func newLog() (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if cmd.Debug {
		level = zapcore.DebugLevel
	}

	log, _, err := logging.Init(&logging.Config{Level: level})
	if err != nil {
		return nil, err
	}
	return log, nil
}

func loadCatalog(log *zap.SugaredLogger) *catalog.Catalog {
	cat, errs := catalog.Load(cmd.ModulesDir)
	for _, err := range errs {
		log.Warnf("skipping module definition: %v", err)
	}
	return cat
}

var applyOnly bool

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Render all artifacts, write them and restart affected services",
	RunE: func(*cobra.Command, []string) error {
		log, err := newLog()
		if err != nil {
			return err
		}
		defer log.Sync()

		eng := apply.NewEngine(
			apply.WithLog(log),
			apply.WithConfigPath(cmd.ConfigPath),
			apply.WithDefinitionsDir(cmd.ModulesDir),
		)
		ctx := context.Background()

		var changed, services []string
		if applyOnly {
			changed, services, err = eng.ApplyOnly(ctx)
		} else {
			var cfg *config.RouterConfig
			cfg, err = config.Load(cmd.ConfigPath)
			if err != nil {
				return err
			}
			changed, services, err = eng.Run(ctx, cfg, loadCatalog(log))
		}
		if err != nil {
			return err
		}

		log.Infof("apply complete: %d files changed, %d services restarted", len(changed), len(services))
		return nil
	},
}

func init() {
	applyCmd.Flags().BoolVar(&applyOnly, "apply-only", false, "Re-apply the persisted configuration without edits")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and module catalog, reporting every problem",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(cmd.ConfigPath)
		if err != nil {
			return err
		}
		cat, catErrs := catalog.Load(cmd.ModulesDir)

		var problems []error
		problems = append(problems, catErrs...)
		problems = append(problems, cfg.Validate()...)
		for _, inst := range cfg.EnabledModules() {
			def, ok := cat.Get(inst.Name)
			if !ok {
				problems = append(problems, fmt.Errorf("module %q: enabled but not installed", inst.Name))
				continue
			}
			problems = append(problems, def.ValidateInstanceConfig(inst.Config)...)
		}
		if len(problems) == 0 {
			// Only a fully valid model can be compiled further.
			if _, err := apply.Pipeline(cfg, cat); err != nil {
				problems = append(problems, err)
			}
		}

		if len(problems) > 0 {
			for _, problem := range problems {
				fmt.Println(problem)
			}
			return fmt.Errorf("%d problem(s) found", len(problems))
		}

		fmt.Println("configuration is valid")
		return nil
	},
}

var renderOutput string

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render all artifacts into a directory without touching the system",
	RunE: func(*cobra.Command, []string) error {
		log, err := newLog()
		if err != nil {
			return err
		}
		defer log.Sync()

		cfg, err := config.Load(cmd.ConfigPath)
		if err != nil {
			return err
		}

		artifacts, err := apply.Pipeline(cfg, loadCatalog(log))
		if err != nil {
			return err
		}

		for _, artifact := range artifacts {
			dst := filepath.Join(renderOutput, artifact.Path)
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(dst, artifact.Content, artifact.Mode); err != nil {
				return err
			}
			fmt.Println(dst)
		}
		return nil
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "rendered", "Directory to render artifacts into")
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "List the physical network interfaces of the host",
	RunE: func(*cobra.Command, []string) error {
		log, err := newLog()
		if err != nil {
			return err
		}
		defer log.Sync()

		ifaces, err := inventory.NewScanner(inventory.WithLog(log)).Scan()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMAC\tPCI\tDRIVER\tSTATE")
		for _, iface := range ifaces {
			state := "down"
			if iface.Up {
				state = "up"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", iface.Name, iface.MAC, iface.PCI, iface.Driver, state)
		}
		return w.Flush()
	},
}
