package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/wolfeidau/wasmbundle/cmd/wasmbundle/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Build   commands.BuildCmd  `cmd:"" help:"Build the project once"`
		Serve   commands.ServeCmd  `cmd:"" help:"Build, serve and rebuild on change"`
		Init    commands.InitCmd   `cmd:"" help:"Write the default build descriptor"`
		Config  commands.ConfigCmd `cmd:"" help:"Print the resolved build descriptor"`
		Debug   bool               `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("wasmbundle"),
		kong.Description("Bundle browser applications backed by a Rust crate compiled with wasm-pack."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
