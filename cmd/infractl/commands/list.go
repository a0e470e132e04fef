package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/infractl/pkg/engine"
)

func newListCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered operations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}

			reg, _, err := a.discover(cmd.Context())
			if err != nil {
				return err
			}

			infos := make([]engine.OperationInfo, 0, reg.Len())
			for _, op := range reg.Operations() {
				infos = append(infos, op.Info())
			}

			out := cmd.OutOrStdout()
			if a.opts.jsonOutput {
				return printJSON(out, infos)
			}

			table := newTable(out, "Name", "Targets", "Depends On", "Description")
			for _, info := range infos {
				table.Append([]string{
					info.Name,
					joinOrDash(info.TargetEnvs.Strings()),
					joinOrDash(info.DependsOn),
					info.Description,
				})
			}
			table.Render()
			return nil
		},
	}

	return cmd
}
