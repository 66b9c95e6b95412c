package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RevCBH/dockerslaves/internal/config"
	"github.com/RevCBH/dockerslaves/internal/image"
)

// ResolveOptions holds flags for the resolve command
type ResolveOptions struct {
	PullPolicy string
	Dockerfile string
	Context    string
}

// NewResolveCmd creates the resolve command
func NewResolveCmd(app *App) *cobra.Command {
	opts := ResolveOptions{
		PullPolicy: config.DefaultPullPolicy,
		Context:    ".",
	}

	cmd := &cobra.Command{
		Use:   "resolve [image]",
		Short: "Make an image available locally and print its ID",
		Long: `Resolve applies the same rules a build uses for its images: inspect the
local cache, pull when the policy asks for it, and verify the result.

With --dockerfile the image is built instead and the argument, if given,
is the tag.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) > 0 {
				ref = args[0]
			}
			return app.Resolve(cmd.Context(), cmd, ref, opts)
		},
	}

	cmd.Flags().StringVar(&opts.PullPolicy, "pull-policy", opts.PullPolicy, "Pull policy: always, if-missing or never")
	cmd.Flags().StringVarP(&opts.Dockerfile, "dockerfile", "f", "", "Build the image from this Dockerfile")
	cmd.Flags().StringVar(&opts.Context, "context", opts.Context, "Build context directory for --dockerfile")

	return cmd
}

// definition returns the image definition the options describe
func (opts ResolveOptions) definition(ref string) (image.Definition, error) {
	if opts.Dockerfile != "" {
		tag := ref
		if tag == "" {
			tag = config.DefaultBuildTag("resolve")
		}
		return image.NewDockerfile(opts.Context, opts.Dockerfile, tag)
	}
	if ref == "" {
		return nil, fmt.Errorf("an image reference is required without --dockerfile")
	}
	policy, err := image.ParsePullPolicy(opts.PullPolicy)
	if err != nil {
		return nil, err
	}
	return image.NewReference(ref, policy)
}

// Resolve resolves one image and prints its ID
func (a *App) Resolve(ctx context.Context, cmd *cobra.Command, ref string, opts ResolveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	def, err := opts.definition(ref)
	if err != nil {
		return err
	}
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	mgr, closeManager, err := newManager(cfg)
	if err != nil {
		return err
	}
	if closeManager != nil {
		defer closeManager()
	}

	id, err := image.NewResolver(mgr, a.logger).Resolve(ctx, def, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
