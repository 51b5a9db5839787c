package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/etlgraph/internal/rules"
)

// NewRulesCommand creates the rules command.
func NewRulesCommand() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "rules [dialect|file]",
		Short: "Print the effective rule pack",
		Long: `Print a rule pack as YAML, with any extends: base already applied.

Without an argument the configured dialect is printed. The argument may name
a built-in pack or a YAML file.`,
		Example: `  # Built-in Oracle rules
  etlgraph rules oracle

  # A custom pack layered on a built-in
  etlgraph rules ./rules/warehouse.yaml

  # List built-in packs
  etlgraph rules --list`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			if list {
				for _, name := range rules.Names() {
					_, _ = fmt.Fprintln(cc.Out, name)
				}
				return nil
			}

			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			pack, err := cc.Rules(ref)
			if err != nil {
				return err
			}
			data, err := pack.Marshal()
			if err != nil {
				return err
			}
			_, err = cc.Out.Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List built-in rule packs")
	return cmd
}
