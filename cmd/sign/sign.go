package sign

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tweag/asset-relay/api"
	"github.com/tweag/asset-relay/cmd/internal/cmdhelper"
	"github.com/tweag/asset-relay/service/capability"
	"github.com/tweag/asset-relay/service/delivery"
	"github.com/tweag/asset-relay/service/storage"
)

// Output is printed as JSON.
type Output struct {
	URL       string    `json:"url"`
	Path      string    `json:"path"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func Command() *cobra.Command {
	var flags *cmdhelper.GlobalFlags
	var ttl time.Duration
	command := &cobra.Command{
		Use:     "sign <path>",
		Short:   "Issues a signed URL for a stored asset",
		Example: "  asset-relay sign private/reports/q3.pdf --ttl 1h",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := flags.Configure()
			if err != nil {
				return err
			}
			out, err := Sign(config, args[0], ttl)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(out)
		},
	}
	flags = cmdhelper.RegisterGlobalFlags(command.Flags(), cmdhelper.FlagPresetNone)
	command.Flags().DurationVar(&ttl, "ttl", 0, "Lifetime of the token. Default: default_token_ttl")
	return command
}

// Sign issues a capability for path without a running server.
// The file does not need to exist yet.
func Sign(config api.GlobalConfig, path string, ttl time.Duration) (Output, error) {
	if ttl < 0 {
		return Output{}, fmt.Errorf("ttl must not be negative")
	}
	resolver, err := storage.NewResolver(config.StorageRoot)
	if err != nil {
		return Output{}, err
	}
	loc, err := resolver.Resolve(path)
	if err != nil {
		return Output{}, err
	}
	signer, err := capability.NewSigner([]byte(config.SigningSecret), config.DefaultTokenTTL())
	if err != nil {
		return Output{}, err
	}
	c := signer.Sign(loc.Rel, ttl)
	return Output{
		URL:       delivery.SignedURL(config.PublicBaseURL, c),
		Path:      c.Path,
		Token:     c.Token,
		ExpiresAt: c.Expires().UTC(),
	}, nil
}
