// Package cli implements flowctl, the command line client for flow documents
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"flowbuilder/application/ports"
	"flowbuilder/infrastructure/config"
	"flowbuilder/infrastructure/di"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// EnvProfile selects a profile when --profile is not given
const EnvProfile = "FLOWCTL_PROFILE"

var version = "0.1.0"

type options struct {
	profileFile string
	profile     string
	verbose     bool
}

// NewRootCommand builds the flowctl command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "flowctl inspects and edits chat flow documents",
		Long:          Brand.Sprint("flowctl") + ": read, write and watch the documents flow editors persist to\n" + Subtle.Sprint("Stores are configured per profile in ~/"+ProfileFileName),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("flowctl {{ .Version }}\n")

	root.PersistentFlags().StringVar(&opts.profileFile, "profiles", DefaultProfilePath(), "Profile file")
	root.PersistentFlags().StringVarP(&opts.profile, "profile", "p", os.Getenv(EnvProfile), "Profile to use")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log store calls")

	root.AddCommand(
		getCmd(opts),
		putCmd(opts),
		watchCmd(opts),
		validateCmd(),
		profilesCmd(opts),
	)
	return root
}

// Execute runs flowctl with the process arguments
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		root.PrintErrln(Bad.Sprint("flowctl: ") + err.Error())
		return err
	}
	return nil
}

// openStore builds the configured store with the same providers flowd uses
func (o *options) openStore(ctx context.Context) (ports.RemoteStore, *config.Config, func(), error) {
	profiles, err := LoadProfiles(o.profileFile)
	if err != nil {
		return nil, nil, nil, err
	}
	profile, err := profiles.Resolve(o.profile)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := profile.Config()
	if err != nil {
		return nil, nil, nil, err
	}

	logger := zap.NewNop()
	if o.verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, nil, nil, err
		}
	}

	client, err := di.ProvideSupabaseClient(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	store, cleanup, err := di.ProvideBackendStore(ctx, cfg, client, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, cfg, cleanup, nil
}
