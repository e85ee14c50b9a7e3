package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imp-platform/imp/catalog"
	"github.com/imp-platform/imp/config"
)

var examplesDir string

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Manage pluggable dataplane modules",
}

func init() {
	modulesCmd.PersistentFlags().StringVar(&examplesDir, "examples-dir", catalog.DefaultExamplesDir, "Directory of shipped module examples")
	modulesCmd.AddCommand(modulesListCmd, modulesEnableCmd, modulesDisableCmd, modulesSetCmd, modulesInstallCmd)
}

var modulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed modules and their state",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(cmd.ConfigPath)
		if err != nil {
			return err
		}
		cat, errs := catalog.Load(cmd.ModulesDir)
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tDESCRIPTION")
		for _, name := range cat.Names() {
			def, _ := cat.Get(name)
			state := "disabled"
			if inst := cfg.Module(name); inst != nil && inst.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, state, def.Description)
		}
		return w.Flush()
	},
}

var modulesEnableCmd = &cobra.Command{
	Use:   "enable <module>",
	Short: "Enable a module",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return editConfig(func(cfg *config.RouterConfig) error {
			name := args[0]
			cat, _ := catalog.Load(cmd.ModulesDir)
			if _, ok := cat.Get(name); !ok {
				return fmt.Errorf("module %q is not installed", name)
			}
			return cfg.EnableModule(name)
		})
	},
}

var modulesDisableCmd = &cobra.Command{
	Use:   "disable <module>",
	Short: "Disable a module, keeping its configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return editConfig(func(cfg *config.RouterConfig) error {
			return cfg.DisableModule(args[0])
		})
	},
}

var modulesSetCmd = &cobra.Command{
	Use:   "set <module> <field> <value>",
	Short: "Set a module configuration field",
	Args:  cobra.ExactArgs(3),
	RunE: func(_ *cobra.Command, args []string) error {
		name, field, raw := args[0], args[1], args[2]

		// Structured values are given as JSON; anything that does not
		// parse is taken as a plain string.
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}

		return editConfig(func(cfg *config.RouterConfig) error {
			cat, _ := catalog.Load(cmd.ModulesDir)
			def, ok := cat.Get(name)
			if !ok {
				return fmt.Errorf("module %q is not installed", name)
			}

			if err := cfg.SetModuleField(name, field, value); err != nil {
				return err
			}
			if errs := def.ValidateInstanceConfig(cfg.Module(name).Config); len(errs) > 0 {
				return errs[0]
			}
			return nil
		})
	},
}

var modulesInstallCmd = &cobra.Command{
	Use:   "install <module>",
	Short: "Install a shipped example module definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := catalog.InstallExample(args[0], examplesDir, cmd.ModulesDir); err != nil {
			return err
		}
		fmt.Printf("module %q installed; enable it with 'imp-configure modules enable %s'\n", args[0], args[0])
		return nil
	},
}

// editConfig loads the document, applies one edit and saves it back.
// The change takes effect on the next apply.
func editConfig(edit func(*config.RouterConfig) error) error {
	cfg, err := config.Load(cmd.ConfigPath)
	if err != nil {
		return err
	}
	if err := edit(cfg); err != nil {
		return err
	}
	if err := cfg.Save(cmd.ConfigPath); err != nil {
		return err
	}
	fmt.Println("configuration updated; run 'imp-configure apply' to make it effective")
	return nil
}
