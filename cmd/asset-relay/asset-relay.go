package main

import (
	"context"
	"os"

	"github.com/tweag/asset-relay/cmd/root"
)

func main() {
	root.Run(context.Background(), os.Args)
}
