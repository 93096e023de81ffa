package root

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/tweag/asset-relay/api"
	"github.com/tweag/asset-relay/cmd/internal/cmdhelper"
	"github.com/tweag/asset-relay/cmd/serve"
	"github.com/tweag/asset-relay/cmd/sign"
	"github.com/tweag/asset-relay/internal/logging"
)

func Run(ctx context.Context, args []string) {
	setLogLevel()
	command := NewCommand()
	command.SetArgs(args[1:])
	if err := command.ExecuteContext(ctx); err != nil {
		logging.Sync()
		cmdhelper.FatalFmt("%v", err)
	}
}

// NewCommand builds the command tree.
func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:           "asset-relay",
		Short:         "Serves stored assets through capability URLs and on-demand image transforms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.AddCommand(serve.Command(), sign.Command())
	return command
}

func setLogLevel() {
	level, ok := os.LookupEnv(api.LogLevelEnv)
	if !ok {
		return
	}
	logging.SetLevel(logging.FromString(level))
}
