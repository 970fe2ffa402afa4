package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/capsulekeeper/internal/tokenctl"
)

func main() {

	ctx := context.Background()
	app := tokenctl.NewApp(os.Stdout)

	if err := app.Run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

}
