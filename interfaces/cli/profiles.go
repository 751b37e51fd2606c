package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func profilesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List configured profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := LoadProfiles(opts.profileFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(profiles.Profiles) == 0 {
				fmt.Fprintln(out, Subtle.Sprintf("  no profiles in %s", opts.profileFile))
				return nil
			}

			rows := make([][]string, 0, len(profiles.Profiles))
			for _, name := range profiles.Names() {
				marker := ""
				if name == profiles.Default {
					marker = "*"
				}
				rows = append(rows, []string{marker, name, profiles.Profiles[name].Backend})
			}
			table(out, []string{"", "NAME", "BACKEND"}, rows)
			return nil
		},
	}
}
