package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imp-platform/imp/config"
)

var routeIface string

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Manage static routes",
}

func init() {
	routeAddCmd.Flags().StringVar(&routeIface, "interface", "", "Pin the route to a dataplane interface")
	routeCmd.AddCommand(routeAddCmd, routeRemoveCmd, routeListCmd)
	rootCmd.AddCommand(routeCmd)
}

var routeAddCmd = &cobra.Command{
	Use:   "add <destination> <via>",
	Short: "Add or replace a static route",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return editConfig(func(cfg *config.RouterConfig) error {
			return cfg.SetRoute(config.Route{
				Destination: args[0],
				Via:         args[1],
				Interface:   routeIface,
			})
		})
	},
}

var routeRemoveCmd = &cobra.Command{
	Use:   "remove <destination>",
	Short: "Remove the static route to a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return editConfig(func(cfg *config.RouterConfig) error {
			return cfg.RemoveRoute(args[0])
		})
	},
}

var routeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured static routes",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(cmd.ConfigPath)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DESTINATION\tVIA\tINTERFACE")
		for _, route := range cfg.Routes {
			fmt.Fprintf(w, "%s\t%s\t%s\n", route.Destination, route.Via, route.Interface)
		}
		return w.Flush()
	},
}
