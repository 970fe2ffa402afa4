// Package tokenctl is the operator tool for the capsule server. It mints
// bearer JWTs for owners and accessors and downloads archived capsule
// ciphertext through the export endpoint.
package tokenctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/dmitrijs2005/capsulekeeper/internal/filex"
	"github.com/dmitrijs2005/capsulekeeper/internal/netx"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/auth"
)

const exportDir = "exports"

var ErrUsage = errors.New("usage: tokenctl <mint|export> [flags]")

type App struct {
	out    io.Writer
	client *http.Client
}

func NewApp(out io.Writer) *App {
	return &App{out: out, client: &http.Client{Timeout: 30 * time.Second}}
}

// Run dispatches args[0] to a command.
func (app *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "mint":
		return app.mint(args[1:])
	case "export":
		return app.export(ctx, args[1:])
	default:
		return ErrUsage
	}
}

// mint prints a signed token for -u. The signing secret is read from the
// terminal so it never lands in shell history.
func (app *App) mint(args []string) error {
	fs := flag.NewFlagSet("mint", flag.ContinueOnError)
	fs.SetOutput(app.out)
	userID := fs.String("u", "", "user id to put in the token")
	verified := fs.Bool("verified", false, "mark the holder as a verified professional")
	ttl := fs.Duration("ttl", 15*time.Minute, "token validity")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("%w: -u is required", common.ErrorInvalidInput)
	}
	if *ttl <= 0 {
		return fmt.Errorf("%w: -ttl must be positive", common.ErrorInvalidInput)
	}

	secret, err := GetSecret(app.out, "JWT secret")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	token, err := auth.GenerateToken(*userID, *verified, secret, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.out, token)
	return nil
}

type exportResponse struct {
	URL string `json:"url"`
}

// export asks the server for a presigned link to a capsule's archived
// ciphertext and saves the object under ./exports.
func (app *App) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(app.out)
	server := fs.String("server", "http://localhost:8080", "capsule server base URL")
	capsuleID := fs.String("capsule", "", "capsule id")
	token := fs.String("token", "", "owner bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *capsuleID == "" || *token == "" {
		return fmt.Errorf("%w: -capsule and -token are required", common.ErrorInvalidInput)
	}

	endpoint := strings.TrimRight(*server, "/") + "/api/capsules/" + url.PathEscape(*capsuleID) + "/export"

	var resp exportResponse
	if err := netx.GetJSON(ctx, app.client, endpoint, *token, &resp); err != nil {
		return fmt.Errorf("export link: %w", err)
	}

	body, err := netx.DownloadPresigned(ctx, app.client, resp.URL)
	if err != nil {
		return err
	}

	dir, err := filex.EnsureSubDir(exportDir)
	if err != nil {
		return err
	}
	path, err := filex.WritePrivate(dir, *capsuleID+".bin", body)
	if err != nil {
		return err
	}

	fmt.Fprintf(app.out, "saved %d bytes to %s\n", len(body), path)
	return nil
}
